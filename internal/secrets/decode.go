package secrets

import "unicode/utf8"

// decodeUTF8 converts captured output to a string, refusing invalid byte sequences.
func decodeUTF8(stream string, b []byte) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	offset := 0
	for offset < len(b) {
		r, size := utf8.DecodeRune(b[offset:])
		if r == utf8.RuneError && size <= 1 {
			break
		}
		offset += size
	}
	return "", &DecodeError{Stream: stream, Offset: offset}
}
