// Package config resolves, parses, validates, and defaults scancam configuration.
package config

// Config is the fully materialized runtime configuration used by scancam.
type Config struct {
	Decoder   DecoderConfig
	Camera    CameraConfig
	Scan      ScanConfig
	Symbology SymbologyConfig
	History   HistoryConfig
	Indicator IndicatorConfig
	OutputCmd CommandConfig
	Debug     DebugConfig
}

// DecoderConfig locates the external barcode decoder service.
type DecoderConfig struct {
	GRPC             string
	DialTimeoutMS    int
	RequestTimeoutMS int
}

// CameraConfig controls device selection and capture geometry.
type CameraConfig struct {
	Device     string
	Width      int
	Height     int
	FrameDepth int
}

// ScanConfig controls result filtering and decode parallelism.
type ScanConfig struct {
	MinConfidence float64
	Workers       int
}

// SymbologyConfig controls which barcode formats are surfaced.
type SymbologyConfig struct {
	GlobalSets []string
	Sets       map[string]SymbologySet
	MaxFormats int
}

// SymbologySet is one named group of barcode format tags.
type SymbologySet struct {
	Name    string
	Formats []string
}

// HistoryConfig controls the local scan history store.
type HistoryConfig struct {
	Enable bool
	Path   string
	Limit  int
}

// IndicatorConfig controls desktop notification and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	SoundEnable    bool
	ErrorTimeoutMS int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug surfaces.
type DebugConfig struct {
	MetricsListen   string
	EnableFrameDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
