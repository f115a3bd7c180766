// Package canon produces canonical JSON (RFC 8785 style) and content
// addressed ids from it.
//
// Canonical form: object keys sorted by UTF-16 code units, no insignificant
// whitespace, strings NFC normalised and escaped minimally (no HTML
// escaping), numbers in shortest round-trip form. Duplicate object keys keep
// the last value.
package canon

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidJSON is returned for input that is not a single JSON value.
var ErrInvalidJSON = errors.New("invalid JSON")

// Marshal rewrites raw JSON into canonical form.
func Marshal(raw []byte) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, gjson.ParseBytes(raw)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v gjson.Result) error {
	switch v.Type {
	case gjson.Null:
		buf.WriteString("null")
	case gjson.True:
		buf.WriteString("true")
	case gjson.False:
		buf.WriteString("false")
	case gjson.String:
		writeString(buf, v.Str)
	case gjson.Number:
		s, err := formatNumber(v.Num)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case gjson.JSON:
		if v.IsArray() {
			return writeArray(buf, v)
		}
		return writeObject(buf, v)
	default:
		return fmt.Errorf("%w: unexpected token %q", ErrInvalidJSON, v.Raw)
	}
	return nil
}

func writeArray(buf *bytes.Buffer, v gjson.Result) error {
	buf.WriteByte('[')
	var err error
	i := 0
	v.ForEach(func(_, elem gjson.Result) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err = writeValue(buf, elem); err != nil {
			err = fmt.Errorf("array[%d]: %w", i, err)
			return false
		}
		i++
		return true
	})
	if err != nil {
		return err
	}
	buf.WriteByte(']')
	return nil
}

func writeObject(buf *bytes.Buffer, v gjson.Result) error {
	members := map[string]gjson.Result{}
	v.ForEach(func(key, val gjson.Result) bool {
		members[norm.NFC.String(key.Str)] = val
		return true
	})

	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		if err := writeValue(buf, members[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

const hexDigits = "0123456789abcdef"

// writeString escapes only quote, backslash and control characters.
// U+2028 and U+2029 are written literally.
func writeString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[r>>4])
				buf.WriteByte(hexDigits[r&0xf])
				continue
			}
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

// formatNumber follows the ECMAScript Number-to-String rules RFC 8785
// relies on: plain decimal between 1e-6 and 1e21, exponent form outside.
func formatNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("number %v has no JSON form", f)
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[0]
	exp = strings.TrimLeft(exp[1:], "0")
	if sign == '-' {
		return mant + "e-" + exp, nil
	}
	return mant + "e+" + exp, nil
}

// compareUTF16 orders strings by UTF-16 code units. Byte order differs for
// characters outside the BMP.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}
