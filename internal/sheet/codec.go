package sheet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// ErrInvalidDocument is returned when bytes are not a JSON object.
var ErrInvalidDocument = errors.New("invalid sheet document")

const typeMulti = "multi-sheet"

// Decode parses a stored sheet document.
func Decode(data []byte) (Document, error) {
	if !gjson.ValidBytes(data) {
		return Document{}, fmt.Errorf("%w: not valid json", ErrInvalidDocument)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Document{}, fmt.Errorf("%w: expected object", ErrInvalidDocument)
	}

	doc := Document{Kind: KindSingle}
	root.ForEach(func(k, v gjson.Result) bool {
		if k.String() == keyType && v.String() == typeMulti {
			doc.Kind = KindMulti
			return false
		}
		return true
	})

	var (
		err    error
		names  []string
		named  = map[string]*Sequence{}
		single *Sequence
		order  []Field
	)
	root.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		switch {
		case key == keyPrivate:
			doc.Private, err = decodeSheets(v)
		case key == keyNames && doc.Kind == KindMulti:
			for _, n := range v.Array() {
				names = append(names, n.String())
			}
		case doc.Kind == KindSingle && isSequenceKey(key):
			if single == nil {
				single = &Sequence{}
			}
			err = decodeSequenceField(single, key, v)
		case doc.Kind == KindMulti && v.IsObject() && !strings.HasPrefix(key, ":"):
			var seq *Sequence
			seq, err = decodeSequence(v)
			named[key] = seq
			order = append(order, Field{Key: key, Raw: []byte(v.Raw)})
		default:
			doc.Meta = append(doc.Meta, Field{Key: key, Raw: []byte(v.Raw)})
		}
		if err != nil {
			err = fmt.Errorf("%q: %w", key, err)
			return false
		}
		return true
	})
	if err != nil {
		return Document{}, fmt.Errorf("decode sheet: %w", err)
	}

	doc.Sheet = single
	for _, n := range names {
		if seq, ok := named[n]; ok {
			doc.Sheets.Put(n, seq)
		}
	}
	// Objects not listed under ":names" are not sheets; keep them verbatim.
	for _, f := range order {
		if _, ok := doc.Sheets.Get(f.Key); !ok {
			doc.Meta = append(doc.Meta, f)
		}
	}
	return doc, nil
}

// Encode serialises a document. Key order is stable: sequences first, then
// preserved fields, then the private namespace.
func Encode(doc Document) ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	o := objectWriter{w: &w}
	o.open()

	if doc.Kind == KindMulti {
		for _, name := range doc.Sheets.names {
			o.key(name)
			writeSequence(&w, doc.Sheets.m[name])
		}
		o.key(keyNames)
		w.RawByte('[')
		for i, name := range doc.Sheets.names {
			if i > 0 {
				w.RawByte(',')
			}
			w.String(name)
		}
		w.RawByte(']')
		if !hasField(doc.Meta, keyType) {
			o.key(keyType)
			w.String(typeMulti)
		}
	} else if doc.Sheet != nil {
		writeSequenceFields(&o, doc.Sheet)
	}

	for _, f := range doc.Meta {
		o.key(f.Key)
		w.Raw(f.Raw, nil)
	}

	if doc.Private.Len() > 0 {
		o.key(keyPrivate)
		p := objectWriter{w: &w}
		p.open()
		for _, name := range doc.Private.names {
			p.key(name)
			writeSequence(&w, doc.Private.m[name])
		}
		p.close()
	}

	o.close()
	return w.BuildBytes()
}

// MarshalJSON implements json.Marshaler.
func (d Document) MarshalJSON() ([]byte, error) {
	return Encode(d)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	doc, err := Decode(data)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

type objectWriter struct {
	w     *jwriter.Writer
	count int
}

func (o *objectWriter) open()  { o.w.RawByte('{') }
func (o *objectWriter) close() { o.w.RawByte('}') }

func (o *objectWriter) key(k string) {
	if o.count > 0 {
		o.w.RawByte(',')
	}
	o.count++
	o.w.String(k)
	o.w.RawByte(':')
}

func writeSequence(w *jwriter.Writer, seq *Sequence) {
	o := objectWriter{w: w}
	o.open()
	writeSequenceFields(&o, seq)
	o.close()
}

func writeSequenceFields(o *objectWriter, seq *Sequence) {
	o.key("total")
	o.w.Int(seq.Total)
	o.key("limit")
	o.w.Int(seq.Limit)
	o.key("offset")
	o.w.Int(seq.Offset)
	o.key("data")
	o.w.RawByte('[')
	for i, rec := range seq.Data {
		if i > 0 {
			o.w.RawByte(',')
		}
		rec.writeJSON(o.w)
	}
	o.w.RawByte(']')
	for _, f := range seq.Meta {
		o.key(f.Key)
		o.w.Raw(f.Raw, nil)
	}
}

func isSequenceKey(key string) bool {
	switch key {
	case "total", "limit", "offset", "data":
		return true
	}
	return false
}

func hasField(fields []Field, key string) bool {
	for _, f := range fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

func decodeSheets(v gjson.Result) (Sheets, error) {
	var out Sheets
	if !v.IsObject() {
		return out, fmt.Errorf("expected object, got %s", v.Type)
	}
	var err error
	v.ForEach(func(k, sv gjson.Result) bool {
		var seq *Sequence
		seq, err = decodeSequence(sv)
		if err != nil {
			err = fmt.Errorf("%q: %w", k.String(), err)
			return false
		}
		out.Put(k.String(), seq)
		return true
	})
	return out, err
}

func decodeSequence(v gjson.Result) (*Sequence, error) {
	if !v.IsObject() {
		return nil, fmt.Errorf("expected sequence object, got %s", v.Type)
	}
	seq := &Sequence{}
	var err error
	v.ForEach(func(k, fv gjson.Result) bool {
		err = decodeSequenceField(seq, k.String(), fv)
		return err == nil
	})
	return seq, err
}

func decodeSequenceField(seq *Sequence, key string, v gjson.Result) error {
	switch key {
	case "total":
		seq.Total = int(v.Int())
	case "limit":
		seq.Limit = int(v.Int())
	case "offset":
		seq.Offset = int(v.Int())
	case "data":
		if !v.IsArray() {
			return fmt.Errorf("data: expected array, got %s", v.Type)
		}
		for i, rv := range v.Array() {
			rec, err := recordFromResult(rv)
			if err != nil {
				return fmt.Errorf("data[%d]: %w", i, err)
			}
			seq.Data = append(seq.Data, rec)
		}
	default:
		seq.Meta = append(seq.Meta, Field{Key: key, Raw: []byte(v.Raw)})
	}
	return nil
}
