package sheet

// targetKind is the resolved destination of a merge. It is decided once per
// Append from the document kind and the sheet name.
type targetKind int

const (
	targetSingle targetKind = iota + 1
	targetMulti
	targetPrivate
)

type target struct {
	kind targetKind
	name string
}

// resolve applies the sheet-name rule: "private-" names go to the private
// namespace, anything else to the top-level sequence of a single-sheet
// document or the named sequence of a multi-sheet document.
func resolve(d Document, sheetName string) target {
	if sheetName == "" {
		sheetName = DefaultSheet
	}
	switch {
	case IsPrivateName(sheetName):
		return target{kind: targetPrivate, name: sheetName}
	case d.Kind == KindMulti:
		return target{kind: targetMulti, name: sheetName}
	default:
		return target{kind: targetSingle, name: sheetName}
	}
}

// Result describes what an Append did.
type Result struct {
	// Total is the destination's total after the append.
	Total int
	// Header is row 0 of the destination after the append.
	Header Record
	// Added lists columns the header gained, in order.
	Added []string
	// Replaced is true when the record took the place of a blank header.
	Replaced bool
}

// Append merges rec into the sequence named by sheetName and returns the
// updated document. An empty sheetName means DefaultSheet. doc is not
// modified.
//
// The outgoing row is timestamp, IP, then the header's columns, then any
// columns only the record has, with missing values set to "". A real header
// gains the record's new columns at its end, except timestamp and IP which
// always lead; earlier rows are left as they are. A blank header is replaced by the row instead of being followed by it.
//
// Total is incremented for every added row and Limit for every write.
func Append(doc Document, rec Record, sheetName string) (Document, Result) {
	t := resolve(doc, sheetName)
	out := doc.clone()
	seq := out.take(t)

	header, hasHeader := seq.Header()
	row := buildRow(header, rec)

	var res Result
	switch {
	case !hasHeader:
		seq.Data = append(seq.Data, row)
		seq.Total++
	case header.IsBlank():
		seq.Data[0] = row
		if seq.Total < 1 {
			seq.Total = 1
		}
		res.Replaced = true
	default:
		if added := missingColumns(header, row); len(added) > 0 {
			seq.Data[0] = growHeader(header, added)
			res.Added = added
		}
		seq.Data = append(seq.Data, row)
		seq.Total++
	}
	seq.Limit++

	res.Total = seq.Total
	res.Header = seq.Data[0]
	return out, res
}

// AppendAll appends records one at a time in order. Every record sees the
// header as left by the records before it.
func AppendAll(doc Document, recs []Record, sheetName string) (Document, Result) {
	var res Result
	for _, rec := range recs {
		var r Result
		doc, r = Append(doc, rec, sheetName)
		res.Total = r.Total
		res.Header = r.Header
		res.Added = append(res.Added, r.Added...)
		res.Replaced = res.Replaced || r.Replaced
	}
	return doc, res
}

func isReserved(key string) bool {
	return key == ColTimestamp || key == ColIP
}

func buildRow(header, rec Record) Record {
	var row Record
	row.Set(ColTimestamp, rec.Value(ColTimestamp))
	row.Set(ColIP, rec.Value(ColIP))
	for _, k := range header.keys {
		if !isReserved(k) {
			row.Set(k, rec.Value(k))
		}
	}
	for _, k := range rec.keys {
		if !isReserved(k) && !row.Has(k) {
			row.Set(k, rec.Value(k))
		}
	}
	return row
}

// growHeader returns header with added appended as blank columns. Reserved
// columns it lacked are moved to the front.
func growHeader(header Record, added []string) Record {
	var grown Record
	for _, k := range []string{ColTimestamp, ColIP} {
		if header.Has(k) || contains(added, k) {
			grown.Set(k, header.Value(k))
		}
	}
	for _, k := range header.keys {
		if !isReserved(k) {
			grown.Set(k, header.Value(k))
		}
	}
	for _, k := range added {
		if !isReserved(k) {
			grown.Set(k, "")
		}
	}
	return grown
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func missingColumns(header, row Record) []string {
	var added []string
	for _, k := range row.keys {
		if !header.Has(k) {
			added = append(added, k)
		}
	}
	return added
}

// clone copies the containers of d so a sequence can be swapped without
// touching the original.
func (d Document) clone() Document {
	c := d
	if c.Kind == 0 {
		c.Kind = KindSingle
	}
	c.Sheets = d.Sheets.copy()
	c.Private = d.Private.copy()
	return c
}

// take returns a private copy of the target sequence installed in d,
// creating an empty one if the target does not exist.
func (d *Document) take(t target) *Sequence {
	var cur *Sequence
	switch t.kind {
	case targetPrivate:
		cur, _ = d.Private.Get(t.name)
	case targetMulti:
		cur, _ = d.Sheets.Get(t.name)
	default:
		cur = d.Sheet
	}

	var seq *Sequence
	if cur == nil {
		seq = &Sequence{}
	} else {
		seq = cur.copy()
	}

	switch t.kind {
	case targetPrivate:
		d.Private.Put(t.name, seq)
	case targetMulti:
		d.Sheets.Put(t.name, seq)
	default:
		d.Sheet = seq
	}
	return seq
}
