// Package decode turns stored gallery payloads into bitmaps.
package decode

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	// Registered image formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// DefaultMaxBytes caps the decoded payload size (16 MiB).
const DefaultMaxBytes = 16 << 20

var (
	// ErrEmptyPayload is returned for an empty or whitespace-only payload.
	ErrEmptyPayload = errors.New("empty image payload")

	// ErrMalformedPayload is returned when the payload is not valid base64
	// or does not hold a supported image.
	ErrMalformedPayload = errors.New("malformed image payload")

	// ErrPayloadTooLarge is returned when the decoded payload exceeds MaxBytes.
	ErrPayloadTooLarge = errors.New("image payload too large")
)

// Base64Decoder decodes base64 encoded PNG, JPEG and GIF images.
// It accepts bare base64 as well as "data:image/...;base64," URIs.
type Base64Decoder struct {
	// MaxBytes is the maximum decoded payload size. 0 means DefaultMaxBytes.
	MaxBytes int
}

// NewBase64Decoder creates a decoder with the default size limit.
func NewBase64Decoder() *Base64Decoder {
	return &Base64Decoder{MaxBytes: DefaultMaxBytes}
}

// Decode decodes one encoded image.
func (d *Base64Decoder) Decode(ctx context.Context, encoded string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := d.decodeBase64(encoded)
	if err != nil {
		return nil, err
	}

	// image.Decode does not observe ctx; check again before the costly part.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return img, nil
}

// DecodeConfig returns the dimensions and format of an encoded image
// without decoding its pixels.
func (d *Base64Decoder) DecodeConfig(encoded string) (image.Config, string, error) {
	raw, err := d.decodeBase64(encoded)
	if err != nil {
		return image.Config{}, "", err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return cfg, format, nil
}

func (d *Base64Decoder) decodeBase64(encoded string) ([]byte, error) {
	payload := stripDataURI(strings.TrimSpace(encoded))
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t', ' ':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	maxBytes := d.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	payload = strings.TrimRight(payload, "=")
	if base64.RawStdEncoding.DecodedLen(len(payload)) > maxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrPayloadTooLarge, maxBytes)
	}

	raw, err := base64.RawStdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return raw, nil
}

// stripDataURI removes a "data:<mime>;base64," prefix.
func stripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.Index(s, ";base64,"); i >= 0 {
		return s[i+len(";base64,"):]
	}
	return s
}
