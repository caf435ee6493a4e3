// Package thumbnails handles project cover images. Images travel as data URLs
// (data:<mime>;base64,<payload>) and are stored inline or, when a bucket is
// configured, as S3 objects referenced from the project record.
package thumbnails

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MaxBytes is the largest decoded image accepted.
const MaxBytes = 2 << 20

// DefaultMIME is assumed when a data URL omits its media type.
const DefaultMIME = "image/jpeg"

var (
	ErrInvalidDataURL = errors.New("invalid data URL")
	ErrTooLarge       = fmt.Errorf("thumbnail exceeds %d bytes", MaxBytes)
	ErrNotImage       = errors.New("thumbnail must be an image")
)

// Decode splits a data URL into its media type and decoded bytes.
func Decode(dataURL string) (string, []byte, error) {
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return "", nil, ErrInvalidDataURL
	}
	mime := strings.TrimPrefix(header, "data:")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" {
		mime = DefaultMIME
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxBytes+3 {
		return "", nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) > MaxBytes {
		return "", nil, ErrTooLarge
	}
	return mime, data, nil
}

// Encode builds a base64 data URL.
func Encode(mime string, data []byte) string {
	if mime == "" {
		mime = DefaultMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Validate checks that dataURL decodes to an image within the size limit.
func Validate(dataURL string) error {
	mime, data, err := Decode(dataURL)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(mime, "image/") {
		return ErrNotImage
	}
	if len(data) == 0 {
		return ErrInvalidDataURL
	}
	return nil
}
