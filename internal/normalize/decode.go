package normalize

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrEncoding is returned by [Decode] when the input bytes cannot be decoded
// with any supported encoding. This is a fatal input error: the transcript
// file is not text in a format this pipeline understands.
var ErrEncoding = errors.New("transcript encoding not recognized")

// fallbackCharmaps are tried in order when the input is not valid UTF-8.
// ISO 8859-1 covers latin-1; Windows-1252 additionally maps the 0x80-0x9F
// range to printable characters, which is what most "latin-1" transcripts
// exported on Windows actually contain.
var fallbackCharmaps = []*charmap.Charmap{
	charmap.ISO8859_1,
	charmap.Windows1252,
}

// Decode converts raw transcript bytes to a string. Valid UTF-8 is passed
// through unchanged; otherwise the fallback charmaps are tried in order.
// If nothing decodes the input, ErrEncoding is returned.
func Decode(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	for _, cm := range fallbackCharmaps {
		decoded, err := cm.NewDecoder().Bytes(raw)
		if err != nil {
			continue
		}
		return string(decoded), nil
	}
	return "", fmt.Errorf("%w: tried utf-8 and %d fallback charmaps", ErrEncoding, len(fallbackCharmaps))
}
