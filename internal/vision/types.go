// Package vision defines the external barcode decoder boundary and its result types.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Symbology is a decoder-defined barcode format tag (e.g. "qr", "ean13").
type Symbology string

const (
	SymbologyQR         Symbology = "qr"
	SymbologyAztec      Symbology = "aztec"
	SymbologyDataMatrix Symbology = "datamatrix"
	SymbologyPDF417     Symbology = "pdf417"
	SymbologyEAN8       Symbology = "ean8"
	SymbologyEAN13      Symbology = "ean13"
	SymbologyUPCE       Symbology = "upce"
	SymbologyCode39     Symbology = "code39"
	SymbologyCode93     Symbology = "code93"
	SymbologyCode128    Symbology = "code128"
	SymbologyITF14      Symbology = "itf14"
	SymbologyCodabar    Symbology = "codabar"
)

// Symbologies lists every format tag the decoder understands, in stable order.
func Symbologies() []Symbology {
	return []Symbology{
		SymbologyQR,
		SymbologyAztec,
		SymbologyDataMatrix,
		SymbologyPDF417,
		SymbologyEAN8,
		SymbologyEAN13,
		SymbologyUPCE,
		SymbologyCode39,
		SymbologyCode93,
		SymbologyCode128,
		SymbologyITF14,
		SymbologyCodabar,
	}
}

// ParseSymbology normalizes a user-supplied format name.
func ParseSymbology(name string) (Symbology, error) {
	candidate := Symbology(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Symbologies() {
		if candidate == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown symbology %q", name)
}

// Orientation is the rotation the decoder must apply before detection.
// Frames arrive sensor-oriented; capture rows are emitted at a fixed
// right-angle offset from display orientation.
type Orientation string

const (
	OrientationUp    Orientation = "up"
	OrientationRight Orientation = "right"
)

// Point is one corner of a detected bounding quadrilateral, in normalized
// image coordinates ([0,1] on both axes).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Observation is one decoded-or-detected barcode returned by the decoder.
// Payload may be empty when the decoder localized a symbol without decoding it.
type Observation struct {
	Symbology  Symbology `json:"symbology"`
	Payload    string    `json:"payload"`
	Confidence float64   `json:"confidence"`
	Corners    [4]Point  `json:"corners"`
}

// Request carries one frame submission to the decoder.
type Request struct {
	Image       []byte      `json:"image"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	PixelFormat string      `json:"pixel_format"`
	Orientation Orientation `json:"orientation"`
	// Symbologies restricts detection when non-empty; empty means all supported.
	Symbologies []Symbology `json:"symbologies,omitempty"`
}

// ErrBadFrame marks a frame the decoder rejected as structurally malformed
// (dimensions or buffer length inconsistent with the declared pixel format).
// This is a capture-integrity violation, not an ordinary decode failure.
var ErrBadFrame = errors.New("malformed frame buffer submitted to decoder")

// Decoder is the external barcode detection collaborator. Implementations
// perform all localization, decoding, and confidence scoring.
type Decoder interface {
	Decode(context.Context, Request) ([]Observation, error)
}

// DecodeFunc adapts a function to the Decoder interface.
type DecodeFunc func(context.Context, Request) ([]Observation, error)

func (f DecodeFunc) Decode(ctx context.Context, req Request) ([]Observation, error) {
	return f(ctx, req)
}
