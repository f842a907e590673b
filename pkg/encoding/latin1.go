// Package encoding provides text encoding utilities for FIF string tags.
package encoding

import (
	"bytes"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Latin1ToUTF8 converts ISO-8859-1 encoded bytes to a UTF-8 string.
// Returns the original bytes as a string if conversion fails.
func Latin1ToUTF8(data []byte) string {
	result, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

// UTF8ToLatin1 converts a UTF-8 string to ISO-8859-1 bytes.
// Characters outside Latin-1 make the conversion fail, in which case the
// UTF-8 bytes are returned unchanged.
func UTF8ToLatin1(s string) []byte {
	result, _, err := transform.Bytes(charmap.ISO8859_1.NewEncoder(), []byte(s))
	if err != nil {
		return []byte(s)
	}
	return result
}

// TrimNullBytes removes trailing null bytes from a byte slice.
func TrimNullBytes(data []byte) []byte {
	return bytes.TrimRight(data, "\x00")
}

// FIFString decodes the payload of a FIF string tag. FIF strings are not
// null terminated, but some writers pad them anyway.
func FIFString(data []byte) string {
	return Latin1ToUTF8(TrimNullBytes(data))
}
