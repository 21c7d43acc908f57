package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Decoder   *jsoncDecoder   `json:"decoder"`
	Camera    *jsoncCamera    `json:"camera"`
	Scan      *jsoncScan      `json:"scan"`
	Symbology *jsoncSymbology `json:"symbology"`
	History   *jsoncHistory   `json:"history"`
	Indicator *jsoncIndicator `json:"indicator"`
	OutputCmd *string         `json:"output_cmd"`
	Debug     *jsoncDebug     `json:"debug"`
}

type jsoncDecoder struct {
	GRPC             *string `json:"grpc"`
	DialTimeoutMS    *int    `json:"dial_timeout_ms"`
	RequestTimeoutMS *int    `json:"request_timeout_ms"`
}

type jsoncCamera struct {
	Device     *string `json:"device"`
	Width      *int    `json:"width"`
	Height     *int    `json:"height"`
	FrameDepth *int    `json:"frame_depth"`
}

type jsoncScan struct {
	MinConfidence *float64 `json:"min_confidence"`
	Workers       *int     `json:"workers"`
}

type jsoncSymbology struct {
	Enable     *jsoncStringList            `json:"enable"`
	MaxFormats *int                        `json:"max_formats"`
	Sets       map[string]jsoncSymbologySet `json:"sets"`
}

type jsoncSymbologySet struct {
	Formats []string `json:"formats"`
}

type jsoncHistory struct {
	Enable *bool   `json:"enable"`
	Path   *string `json:"path"`
	Limit  *int    `json:"limit"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	Backend        *string `json:"backend"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncDebug struct {
	MetricsListen *string `json:"metrics_listen"`
	FrameDump     *bool   `json:"frame_dump"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.Decoder != nil {
		if payload.Decoder.GRPC != nil {
			cfg.Decoder.GRPC = strings.TrimSpace(*payload.Decoder.GRPC)
		}
		if payload.Decoder.DialTimeoutMS != nil {
			cfg.Decoder.DialTimeoutMS = *payload.Decoder.DialTimeoutMS
		}
		if payload.Decoder.RequestTimeoutMS != nil {
			cfg.Decoder.RequestTimeoutMS = *payload.Decoder.RequestTimeoutMS
		}
	}

	if payload.Camera != nil {
		if payload.Camera.Device != nil {
			cfg.Camera.Device = strings.TrimSpace(*payload.Camera.Device)
		}
		if payload.Camera.Width != nil {
			cfg.Camera.Width = *payload.Camera.Width
		}
		if payload.Camera.Height != nil {
			cfg.Camera.Height = *payload.Camera.Height
		}
		if payload.Camera.FrameDepth != nil {
			cfg.Camera.FrameDepth = *payload.Camera.FrameDepth
		}
	}

	if payload.Scan != nil {
		if payload.Scan.MinConfidence != nil {
			cfg.Scan.MinConfidence = *payload.Scan.MinConfidence
		}
		if payload.Scan.Workers != nil {
			cfg.Scan.Workers = *payload.Scan.Workers
		}
	}

	if payload.Symbology != nil {
		if payload.Symbology.Enable != nil {
			cfg.Symbology.GlobalSets = cfg.Symbology.GlobalSets[:0]
			for _, name := range *payload.Symbology.Enable {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				cfg.Symbology.GlobalSets = append(cfg.Symbology.GlobalSets, name)
			}
		}
		if payload.Symbology.MaxFormats != nil {
			cfg.Symbology.MaxFormats = *payload.Symbology.MaxFormats
		}
		if payload.Symbology.Sets != nil {
			if cfg.Symbology.Sets == nil {
				cfg.Symbology.Sets = make(map[string]SymbologySet)
			}
			for name, set := range payload.Symbology.Sets {
				trimmedName := strings.TrimSpace(name)
				if trimmedName == "" {
					return nil, fmt.Errorf("symbology.sets contains an empty set name")
				}

				formats := make([]string, 0, len(set.Formats))
				formats = append(formats, set.Formats...)
				cfg.Symbology.Sets[trimmedName] = SymbologySet{Name: trimmedName, Formats: formats}
			}
		}
	}

	if payload.History != nil {
		if payload.History.Enable != nil {
			cfg.History.Enable = *payload.History.Enable
		}
		if payload.History.Path != nil {
			cfg.History.Path = strings.TrimSpace(*payload.History.Path)
		}
		if payload.History.Limit != nil {
			cfg.History.Limit = *payload.History.Limit
		}
	}

	if payload.Indicator != nil {
		if payload.Indicator.Enable != nil {
			cfg.Indicator.Enable = *payload.Indicator.Enable
		}
		if payload.Indicator.Backend != nil {
			cfg.Indicator.Backend = strings.TrimSpace(*payload.Indicator.Backend)
		}
		if payload.Indicator.DesktopAppName != nil {
			cfg.Indicator.DesktopAppName = strings.TrimSpace(*payload.Indicator.DesktopAppName)
		}
		if payload.Indicator.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *payload.Indicator.SoundEnable
		}
		if payload.Indicator.ErrorTimeoutMS != nil {
			cfg.Indicator.ErrorTimeoutMS = *payload.Indicator.ErrorTimeoutMS
		}
	}

	if payload.OutputCmd != nil {
		raw := *payload.OutputCmd
		argv, err := parseArgv(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid output_cmd: %w", err)
		}
		cfg.OutputCmd = CommandConfig{Raw: raw, Argv: argv}
	}

	if payload.Debug != nil {
		if payload.Debug.MetricsListen != nil {
			cfg.Debug.MetricsListen = strings.TrimSpace(*payload.Debug.MetricsListen)
		}
		if payload.Debug.FrameDump != nil {
			cfg.Debug.EnableFrameDump = *payload.Debug.FrameDump
		}
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
