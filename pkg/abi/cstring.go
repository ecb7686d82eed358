package abi

import (
	"bytes"
	"fmt"
	"strings"
)

// EmbeddedNULError occurs when a registration name contains a NUL byte and
// therefore cannot be null-terminated.
type EmbeddedNULError struct {
	Name string
}

func (e *EmbeddedNULError) Error() string {
	return fmt.Sprintf("name %q contains an embedded NUL byte", e.Name)
}

// CStringBytes returns the null-terminated encoding of s used for function
// names crossing the boundary. The terminator is not counted in any length
// the contract carries.
func CStringBytes(s string) ([]byte, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return nil, &EmbeddedNULError{Name: s}
	}
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return buf, nil
}

// cstringChunk is the read granularity of ReadCString.
const cstringChunk = 64

// ReadCString reads the null-terminated string at ptr, scanning at most max
// bytes. It reports false for a null pointer, an unreadable range, or a
// missing terminator. Reads shrink near the end of memory so a short string
// close to the boundary still resolves.
func ReadCString(mem Memory, ptr, max uint32) (string, bool) {
	if ptr == 0 {
		return "", false
	}
	var out []byte
	for n := uint32(0); n < max; {
		chunk := max - n
		if chunk > cstringChunk {
			chunk = cstringChunk
		}
		buf, ok := mem.Read(ptr+n, chunk)
		for !ok && chunk > 1 {
			chunk /= 2
			buf, ok = mem.Read(ptr+n, chunk)
		}
		if !ok {
			return "", false
		}
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			return string(append(out, buf[:i]...)), true
		}
		out = append(out, buf...)
		n += chunk
	}
	return "", false
}
