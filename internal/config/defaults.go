package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Decoder: DecoderConfig{
			GRPC:             "127.0.0.1:50051",
			DialTimeoutMS:    2000,
			RequestTimeoutMS: 1500,
		},
		Camera: CameraConfig{
			Device:     "auto",
			Width:      1280,
			Height:     720,
			FrameDepth: 4,
		},
		Scan: ScanConfig{
			MinConfidence: 0.5,
			Workers:       1,
		},
		Symbology: SymbologyConfig{
			GlobalSets: nil,
			Sets:       map[string]SymbologySet{},
			MaxFormats: 64,
		},
		History: HistoryConfig{
			Enable: true,
			Limit:  20,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "desktop",
			DesktopAppName: "scancam",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
		Debug: DebugConfig{},
	}
}
