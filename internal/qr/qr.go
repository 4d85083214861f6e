// Package qr renders pairing URLs as scannable codes.
package qr

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const DefaultSize = 256

// PNG encodes url as a size x size PNG.
func PNG(url string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(url, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// Terminal renders url with half-block characters for a text console.
func Terminal(url string) (string, error) {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return code.ToSmallString(false), nil
}
