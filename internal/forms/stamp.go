package forms

import (
	"encoding/json"
	"time"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// Server-owned fields. Client-supplied values are replaced.
const (
	FieldTimestamp = "timestamp"
	FieldIP        = "IP"
)

// Stamp returns data with timestamp set to now (RFC 3339, millisecond
// precision, UTC) and IP set to ip. Other fields keep their order and
// raw values.
func Stamp(data json.RawMessage, now time.Time, ip string) json.RawMessage {
	var w jwriter.Writer
	w.NoEscapeHTML = true
	w.RawByte('{')
	first := true
	field := func(k string) {
		if !first {
			w.RawByte(',')
		}
		first = false
		w.String(k)
		w.RawByte(':')
	}

	gjson.ParseBytes(data).ForEach(func(k, v gjson.Result) bool {
		if k.Str == FieldTimestamp || k.Str == FieldIP {
			return true
		}
		field(k.Str)
		w.Raw([]byte(v.Raw), nil)
		return true
	})
	field(FieldTimestamp)
	w.String(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	field(FieldIP)
	w.String(ip)
	w.RawByte('}')

	out, _ := w.BuildBytes()
	return out
}
