package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scancam/scancam/internal/vision"
)

func TestNormalizeJSONCRemovesCommentsAndTrailingCommas(t *testing.T) {
	input := `
{
  // line comment
  "items": [
    "one", /* block comment */
    "two",
  ],
  "nested": {
    "enabled": true,
  },
}
`

	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.NotContains(t, normalized, "//")
	require.NotContains(t, normalized, "/*")
	require.NotContains(t, normalized, ",]")
	require.NotContains(t, normalized, ",}")
}

func TestNormalizeJSONCRetainsCommentLikeTextInsideStrings(t *testing.T) {
	input := `{"value":"contains // and /* comment-like */ text",}`
	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.Contains(t, normalized, "// and /* comment-like */")
}

func TestNormalizeJSONCUnterminatedBlockCommentFails(t *testing.T) {
	_, err := normalizeJSONC("{ /* unterminated ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated block comment")
}

func TestEnsureSingleJSONValueRejectsExtraPayload(t *testing.T) {
	decoder := json.NewDecoder(strings.NewReader(`{"one":1}{"two":2}`))
	var payload map[string]any
	require.NoError(t, decoder.Decode(&payload))

	err := ensureSingleJSONValue(decoder)
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestOffsetToLineCol(t *testing.T) {
	content := "line1\nline2\nline3"
	line, col := offsetToLineCol(content, 1)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)

	line, col = offsetToLineCol(content, 8) // line2, col2
	require.Equal(t, 2, line)
	require.Equal(t, 2, col)

	line, col = offsetToLineCol(content, 999)
	require.Equal(t, 3, line)
	require.Equal(t, 5, col)
}

func TestJSONCStringListUnmarshal(t *testing.T) {
	var list jsoncStringList
	require.NoError(t, list.UnmarshalJSON([]byte(`["a","b"]`)))
	require.Equal(t, []string{"a", "b"}, []string(list))

	require.NoError(t, list.UnmarshalJSON([]byte(`"a, b, , c"`)))
	require.Equal(t, []string{"a", "b", "c"}, []string(list))

	err := list.UnmarshalJSON([]byte(`123`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected string array")
}

func TestParseJSONCOverlaysOntoDefaults(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  // point at the lab decoder
  "decoder": {"grpc": "10.0.0.7:50051"},
  "camera": {"device": "/dev/video2", "width": 1920, "height": 1080},
  "scan": {"min_confidence": 0.8, "workers": 2},
}`, Default())
	require.NoError(t, err)
	require.Equal(t, "10.0.0.7:50051", cfg.Decoder.GRPC)
	require.Equal(t, Default().Decoder.DialTimeoutMS, cfg.Decoder.DialTimeoutMS)
	require.Equal(t, "/dev/video2", cfg.Camera.Device)
	require.Equal(t, 1920, cfg.Camera.Width)
	require.Equal(t, Default().Camera.FrameDepth, cfg.Camera.FrameDepth)
	require.InDelta(t, 0.8, cfg.Scan.MinConfidence, 1e-9)
	require.Equal(t, 2, cfg.Scan.Workers)
}

func TestParseJSONCRejectsInvalidOutputCmd(t *testing.T) {
	_, _, err := parseJSONC(`{"output_cmd":"unterminated ' quote"}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid output_cmd")
}

func TestParseJSONCSymbologyRejectsEmptySetName(t *testing.T) {
	_, _, err := parseJSONC(`{"symbology":{"sets":{" ":{"formats":["qr"]}}}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty set name")
}

func TestParseJSONCTrimsIndicatorAndCameraFields(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "camera": {"device": "  /dev/video1  "},
  "indicator": {
    "backend": " desktop ",
    "desktop_app_name": "  scancam  "
  }
}`, Default())
	require.NoError(t, err)
	require.Equal(t, "/dev/video1", cfg.Camera.Device)
	require.Equal(t, "desktop", cfg.Indicator.Backend)
	require.Equal(t, "scancam", cfg.Indicator.DesktopAppName)
}

func TestParseJSONCRejectsMultipleTopLevelValues(t *testing.T) {
	_, _, err := parseJSONC(`{"history":{"enable":false}}{"history":{"enable":true}}`, Default())
	require.Error(t, err)
	require.True(
		t,
		strings.Contains(err.Error(), "multiple JSON values") || strings.Contains(err.Error(), "unknown field"),
		"unexpected error: %v",
		err,
	)
}

func TestParseJSONCTypeErrorIncludesLocation(t *testing.T) {
	_, _, err := parseJSONC(`{
  "decoder": {"grpc": 123}
}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line")
	require.Contains(t, err.Error(), "column")
}

func TestParseJSONCSymbologyEnableSupportsCommaString(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "symbology": {
    "enable": "retail, tickets, , matrix",
    "sets": {
      "retail": {"formats": ["ean13", "upce"]},
      "tickets": {"formats": ["pdf417"]},
      "matrix": {"formats": ["qr", "datamatrix"]}
    }
  }
}`, Default())
	require.NoError(t, err)
	require.Equal(t, []string{"retail", "tickets", "matrix"}, cfg.Symbology.GlobalSets)

	formats, _, err := BuildSymbologyFilter(cfg)
	require.NoError(t, err)
	require.Equal(t, []vision.Symbology{
		vision.SymbologyDataMatrix,
		vision.SymbologyEAN13,
		vision.SymbologyPDF417,
		vision.SymbologyQR,
		vision.SymbologyUPCE,
	}, formats)
}
