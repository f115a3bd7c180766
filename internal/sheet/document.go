package sheet

import "strings"

// Kind is the top-level shape of a document.
type Kind int

const (
	// KindSingle is a document with one flat sequence at the top level.
	KindSingle Kind = iota + 1
	// KindMulti is a document with named sequences listed under ":names".
	KindMulti
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "sheet"
	case KindMulti:
		return "multi-sheet"
	default:
		return "unknown"
	}
}

// Reserved document keys.
const (
	keyPrivate = ":private"
	keyNames   = ":names"
	keyType    = ":type"

	// PrivatePrefix marks sheet names that live in the ":private" namespace.
	PrivatePrefix = "private-"

	// DefaultSheet is the destination used when no sheet name is given.
	DefaultSheet = "private-data"
)

// Field is a document key this package does not interpret, kept verbatim so
// a round trip does not drop it.
type Field struct {
	Key string
	Raw []byte
}

// Sequence is one record sequence with its counters.
//
// Total is the row count as maintained by writers. Limit is a write counter
// that only ever grows.
type Sequence struct {
	Total  int
	Limit  int
	Offset int
	Data   []Record
	Meta   []Field
}

// Header returns row 0, if any.
func (s *Sequence) Header() (Record, bool) {
	if s == nil || len(s.Data) == 0 {
		return Record{}, false
	}
	return s.Data[0], true
}

// copy returns a shallow copy with its own Data slice. Records themselves are
// shared; they are never mutated once stored.
func (s *Sequence) copy() *Sequence {
	c := *s
	c.Data = make([]Record, len(s.Data), len(s.Data)+1)
	copy(c.Data, s.Data)
	return &c
}

// Sheets is an ordered set of named sequences.
type Sheets struct {
	names []string
	m     map[string]*Sequence
}

// Names returns sequence names in order.
func (s Sheets) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Get returns the named sequence.
func (s Sheets) Get(name string) (*Sequence, bool) {
	seq, ok := s.m[name]
	return seq, ok
}

// Len returns the number of sequences.
func (s Sheets) Len() int {
	return len(s.names)
}

// Put stores seq under name. A new name is added last.
func (s *Sheets) Put(name string, seq *Sequence) {
	if s.m == nil {
		s.m = make(map[string]*Sequence)
	}
	if _, ok := s.m[name]; !ok {
		s.names = append(s.names, name)
	}
	s.m[name] = seq
}

func (s Sheets) copy() Sheets {
	c := Sheets{
		names: make([]string, len(s.names)),
		m:     make(map[string]*Sequence, len(s.m)),
	}
	copy(c.names, s.names)
	for k, v := range s.m {
		c.m[k] = v
	}
	return c
}

// Document is a whole sheet document.
//
// For KindSingle, Sheet holds the top-level sequence and may be nil when the
// document only has private data. For KindMulti, Sheets holds the named
// sequences. Private is shared by both kinds.
type Document struct {
	Kind    Kind
	Sheet   *Sequence
	Sheets  Sheets
	Private Sheets
	Meta    []Field
}

// NewDocument returns the document used for a destination that does not
// exist yet: a single private "private-data" sequence whose only row is an
// all-empty header placeholder carrying the reserved columns.
func NewDocument() Document {
	doc := Document{Kind: KindSingle}
	doc.Private.Put(DefaultSheet, &Sequence{
		Data: []Record{NewRecord(ColTimestamp, "", ColIP, "")},
	})
	return doc
}

// Lookup returns the sequence a sheet name resolves to without creating
// it.
func (d Document) Lookup(sheetName string) (*Sequence, bool) {
	t := resolve(d, sheetName)
	switch t.kind {
	case targetPrivate:
		return d.Private.Get(t.name)
	case targetMulti:
		return d.Sheets.Get(t.name)
	default:
		return d.Sheet, d.Sheet != nil
	}
}

// IsPrivateName reports whether a sheet name belongs to the private
// namespace.
func IsPrivateName(name string) bool {
	return strings.HasPrefix(name, PrivatePrefix)
}
