package backup

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// escapeNonASCII rewrites every non-ASCII rune of an encoded JSON document as
// a \uXXXX escape. Non-ASCII bytes only occur inside string literals, so the
// result is equivalent JSON.
func escapeNonASCII(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for len(data) > 0 {
		if data[0] < utf8.RuneSelf {
			out = append(out, data[0])
			data = data[1:]
			continue
		}

		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r >= 0x10000 {
			r1, r2 := utf16.EncodeRune(r)
			out = fmt.Appendf(out, `\u%04x\u%04x`, r1, r2)
			continue
		}
		out = fmt.Appendf(out, `\u%04x`, r)
	}
	return out
}
