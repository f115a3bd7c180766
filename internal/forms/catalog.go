package forms

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// Catalog holds one CUE schema per formId, read from a top-level "forms"
// struct:
//
//	forms: {
//		"ca/fr_ca/order-status": {
//			orderNumber: string
//		}
//		"contact": {
//			email:     string
//			comments?: string
//			reason:    "sales" | "support"
//		}
//	}
//
// Regular fields are required, optional fields end in '?', and data fields
// the schema does not declare are rejected. Forms without an entry pass.
//
// A Catalog is safe for concurrent use.
type Catalog struct {
	mu    sync.Mutex
	ctx   *cue.Context
	forms cue.Value
}

// LoadCatalog reads a catalog from a .cue file, or from every .cue file in
// a directory unified together. Files need no package clause; forms
// declared in several files must agree.
func LoadCatalog(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load schema catalog: %w", err)
	}
	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.cue"))
		if err != nil {
			return nil, fmt.Errorf("load schema catalog: %w", err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("load schema catalog: no .cue files in %s", path)
		}
		sort.Strings(files)
	}

	ctx := cuecontext.New()
	var root cue.Value
	for i, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("load schema catalog: %w", err)
		}
		v := ctx.CompileBytes(src, cue.Filename(file))
		if i == 0 {
			root = v
			continue
		}
		root = root.Unify(v)
	}
	return newCatalog(ctx, root)
}

// ParseCatalog compiles a catalog from CUE source. filename is used in
// error positions.
func ParseCatalog(src []byte, filename string) (*Catalog, error) {
	ctx := cuecontext.New()
	return newCatalog(ctx, ctx.CompileBytes(src, cue.Filename(filename)))
}

func newCatalog(ctx *cue.Context, root cue.Value) (*Catalog, error) {
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("build schema catalog: %s", errors.Details(err, nil))
	}
	if err := root.Validate(); err != nil {
		return nil, fmt.Errorf("build schema catalog: %s", errors.Details(err, nil))
	}
	forms := root.LookupPath(cue.ParsePath("forms"))
	if !forms.Exists() {
		return nil, fmt.Errorf("build schema catalog: no forms field")
	}
	iter, err := forms.Fields(cue.Optional(true))
	if err != nil {
		return nil, fmt.Errorf("build schema catalog: %w", err)
	}
	for iter.Next() {
		if _, err := iter.Value().Fields(cue.Optional(true)); err != nil {
			return nil, fmt.Errorf("build schema catalog: form %q is not a struct", iter.Selector().Unquoted())
		}
	}
	return &Catalog{ctx: ctx, forms: forms}, nil
}

// FormIDs lists the forms with a schema, sorted.
func (c *Catalog) FormIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	iter, err := c.forms.Fields(cue.Optional(true))
	if err != nil {
		return nil
	}
	for iter.Next() {
		ids = append(ids, iter.Selector().Unquoted())
	}
	sort.Strings(ids)
	return ids
}

// Check validates data against the schema for formID. It returns nil
// when the form has no schema and a *ValidationError otherwise.
func (c *Catalog) Check(formID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	schema := c.forms.LookupPath(cue.MakePath(cue.Str(formID)))
	if !schema.Exists() {
		return nil
	}

	value := c.ctx.CompileBytes(data, cue.Filename(formID+".json"))
	if err := value.Err(); err != nil {
		return &ValidationError{Reason: ReasonSchema, Detail: errors.Details(err, nil)}
	}

	fields, err := value.Fields()
	if err != nil {
		return &ValidationError{Reason: ReasonSchema, Detail: err.Error()}
	}
	for fields.Next() {
		name := fields.Selector().Unquoted()
		if !schema.LookupPath(cue.MakePath(cue.Str(name))).Exists() && !schema.LookupPath(cue.MakePath(cue.Str(name).Optional())).Exists() {
			return &ValidationError{Reason: ReasonSchema, Detail: fmt.Sprintf("field %q not allowed", name)}
		}
	}

	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Reason: ReasonSchema, Detail: errors.Details(err, nil)}
	}
	return nil
}
