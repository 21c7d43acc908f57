// Package ipc provides the unix-socket request/response channel between the
// scancam CLI and a running scanner daemon.
package ipc

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK      bool   `json:"ok"`
	Setup   string `json:"setup,omitempty"`
	Run     string `json:"run,omitempty"`
	Device  string `json:"device,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
