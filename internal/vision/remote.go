package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const decodeMethod = "/scancam.v1.Decoder/Decode"

// RemoteConfig controls connection setup to the decode service.
type RemoteConfig struct {
	Endpoint       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

// RemoteDecoder talks to the external decode service over gRPC. The service
// ships no generated stubs into this tree; requests use the registered JSON
// codec against a raw method descriptor.
type RemoteDecoder struct {
	conn    *grpc.ClientConn
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

type decodeResponse struct {
	Observations []Observation `json:"observations"`
}

// jsonCodec satisfies grpc/encoding.Codec for the decode service wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// DialRemote connects to the decode service and waits for channel readiness.
func DialRemote(ctx context.Context, cfg RemoteConfig) (*RemoteDecoder, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("decoder endpoint is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 1500 * time.Millisecond
	}

	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, fmt.Errorf("dial decoder grpc %q: %w", endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for decoder grpc readiness: %w", err)
	}

	return &RemoteDecoder{conn: conn, timeout: cfg.RequestTimeout}, nil
}

// Decode submits one frame and returns the decoder's raw observations.
// An InvalidArgument status means the frame itself violated the submission
// contract and is surfaced as ErrBadFrame.
func (d *RemoteDecoder) Decode(ctx context.Context, req Request) ([]Observation, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, errors.New("decoder connection already closed")
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var resp decodeResponse
	if err := d.conn.Invoke(callCtx, decodeMethod, &req, &resp); err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return resp.Observations, nil
}

// Close tears down the underlying grpc connection.
func (d *RemoteDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.conn.Close()
}

// ProbeReady dials the decode service and reports whether the channel reaches
// Ready within the timeout. Used by doctor checks.
func ProbeReady(ctx context.Context, endpoint string, timeout time.Duration) error {
	decoder, err := DialRemote(ctx, RemoteConfig{Endpoint: endpoint, DialTimeout: timeout})
	if err != nil {
		return err
	}
	return decoder.Close()
}
