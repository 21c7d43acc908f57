package vision

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTripsRequest(t *testing.T) {
	codec := jsonCodec{}
	req := Request{
		Image:       []byte{0x01, 0x02, 0x03},
		Width:       1280,
		Height:      720,
		PixelFormat: "rgb24",
		Orientation: OrientationRight,
		Symbologies: []Symbology{SymbologyQR, SymbologyEAN13},
	}

	data, err := codec.Marshal(&req)
	require.NoError(t, err)

	var got Request
	require.NoError(t, codec.Unmarshal(data, &got))
	require.Equal(t, req, got)
}

func TestJSONCodecName(t *testing.T) {
	require.Equal(t, "json", jsonCodec{}.Name())
}

func TestRequestOmitsEmptySymbologyFilter(t *testing.T) {
	data, err := json.Marshal(Request{Width: 640, Height: 480, Orientation: OrientationRight})
	require.NoError(t, err)
	require.NotContains(t, string(data), "symbologies")
}

func TestDecodeResponseUnmarshal(t *testing.T) {
	payload := `{
		"observations": [
			{
				"symbology": "qr",
				"payload": "https://example.com",
				"confidence": 0.92,
				"corners": [{"x":0.1,"y":0.1},{"x":0.9,"y":0.1},{"x":0.9,"y":0.9},{"x":0.1,"y":0.9}]
			},
			{"symbology": "ean13", "payload": "", "confidence": 0.4}
		]
	}`

	var resp decodeResponse
	require.NoError(t, json.Unmarshal([]byte(payload), &resp))
	require.Len(t, resp.Observations, 2)
	require.Equal(t, SymbologyQR, resp.Observations[0].Symbology)
	require.Equal(t, "https://example.com", resp.Observations[0].Payload)
	require.InDelta(t, 0.92, resp.Observations[0].Confidence, 1e-9)
	require.InDelta(t, 0.9, resp.Observations[0].Corners[2].X, 1e-9)
	require.Empty(t, resp.Observations[1].Payload)
}

func TestDialRemoteRejectsEmptyEndpoint(t *testing.T) {
	_, err := DialRemote(testContext(t), RemoteConfig{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "endpoint is empty")
}
