package camera

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// AuthStatus mirrors the platform camera authorization states.
type AuthStatus string

const (
	AuthGranted      AuthStatus = "granted"
	AuthUndetermined AuthStatus = "undetermined"
	AuthDenied       AuthStatus = "denied"
	AuthRestricted   AuthStatus = "restricted"
)

// Authorizer is the platform permission boundary: query current status, and
// request access when the status is still undetermined.
type Authorizer interface {
	Status(context.Context) AuthStatus
	// Request resolves an undetermined status, possibly after user/system
	// interaction, and returns the resulting status.
	Request(context.Context) (AuthStatus, error)
}

// NodeAuthorizer derives camera authorization from device-node access. Until
// the first Request probe the status stays undetermined, matching platforms
// where access is unknown before the prompt.
type NodeAuthorizer struct {
	path string

	mu      sync.Mutex
	probed  bool
	current AuthStatus
}

// NewNodeAuthorizer builds an authorizer probing the given device node.
// An empty path probes the first discovered capture node.
func NewNodeAuthorizer(path string) *NodeAuthorizer {
	return &NodeAuthorizer{path: path, current: AuthUndetermined}
}

// Status returns the last probed status, or undetermined before any probe.
func (a *NodeAuthorizer) Status(context.Context) AuthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.probed {
		return AuthUndetermined
	}
	return a.current
}

// Request probes device-node access and caches the outcome.
func (a *NodeAuthorizer) Request(ctx context.Context) (AuthStatus, error) {
	path := a.path
	if path == "" {
		devices, err := ListDevices(ctx)
		if err != nil {
			return AuthUndetermined, err
		}
		if len(devices) == 0 {
			return a.record(AuthRestricted), nil
		}
		path = devices[0].ID
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err == nil {
		_ = f.Close()
		return a.record(AuthGranted), nil
	}

	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, unix.EACCES):
		return a.record(AuthDenied), nil
	case errors.Is(err, unix.EPERM):
		return a.record(AuthRestricted), nil
	case errors.Is(err, fs.ErrNotExist):
		return a.record(AuthRestricted), nil
	default:
		return AuthUndetermined, err
	}
}

// record caches and returns a probed status.
func (a *NodeAuthorizer) record(status AuthStatus) AuthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probed = true
	a.current = status
	return status
}
