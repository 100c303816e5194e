package doc

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// IDField is the name of the identity field of every stored document
const IDField = "_id"

// MaxDepth is the deepest accepted nesting of documents and arrays. The
// top level document has depth 1.
const MaxDepth = 100

// ErrInvalid is returned (wrapped) for documents that can not be stored
var ErrInvalid = errors.New("invalid document")

// enter returns the depth of a document or array nested in a container of
// the given depth
func enter(depth int) (int, error) {
	if depth >= MaxDepth {
		return 0, fmt.Errorf("%w: nesting exceeds %d levels", ErrInvalid, MaxDepth)
	}
	return depth + 1, nil
}

// --------------------------------------------------------------------------
// Document Type
// --------------------------------------------------------------------------

// Field is a single name/value pair of a document
type Field struct {
	Name  string
	Value any
}

// F is a shorthand constructor for a Field
func F(name string, value any) Field {
	return Field{Name: name, Value: value}
}

// Document is an ordered list of fields.
// The zero value is an empty document and ready to use.
//
// Supported value types after Normalize: nil, bool, int64, float64, string,
// ObjectID, []any and Document.
type Document struct {
	fields []Field
}

// New creates a document from the given fields (in order)
func New(fields ...Field) Document {
	d := Document{fields: make([]Field, len(fields))}
	copy(d.fields, fields)
	return d
}

// Len returns the number of fields
func (d Document) Len() int {
	return len(d.fields)
}

// Fields returns a copy of the field list
func (d Document) Fields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Get returns the value of the first field with the given name
func (d Document) Get(name string) (any, bool) {
	for _, f := range d.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Has reports whether the document contains a field with the given name
func (d Document) Has(name string) bool {
	_, ok := d.Get(name)
	return ok
}

// ID returns the value of the _id field
func (d Document) ID() (any, bool) {
	return d.Get(IDField)
}

// Set replaces the value of an existing field or appends a new one
func (d *Document) Set(name string, value any) {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields[i].Value = value
			return
		}
	}
	d.fields = append(d.fields, Field{Name: name, Value: value})
}

// Delete removes the field with the given name and reports whether it existed
func (d *Document) Delete(name string) bool {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields = append(d.fields[:i], d.fields[i+1:]...)
			return true
		}
	}
	return false
}

// WithID returns a copy of the document with _id set to id as its first field.
// An existing _id field is removed first.
func (d Document) WithID(id any) Document {
	out := Document{fields: make([]Field, 0, len(d.fields)+1)}
	out.fields = append(out.fields, Field{Name: IDField, Value: id})
	for _, f := range d.fields {
		if f.Name != IDField {
			out.fields = append(out.fields, f)
		}
	}
	return out
}

// Clone returns a deep copy of the document
func (d Document) Clone() Document {
	out := Document{fields: make([]Field, len(d.fields))}
	for i, f := range d.fields {
		out.fields[i] = Field{Name: f.Name, Value: cloneValue(f.Value)}
	}
	return out
}

// Equal reports whether both documents are structurally equal
// (same field order, equal values by canonical key)
func (d Document) Equal(other Document) bool {
	a, errA := Key(d)
	b, errB := Key(other)
	return errA == nil && errB == nil && a == b
}

// String returns the extended JSON representation or an error marker
func (d Document) String() string {
	b, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid document: %v>", err)
	}
	return string(b)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// --------------------------------------------------------------------------
// Normalization and Validation
// --------------------------------------------------------------------------

// Normalize validates the document for storage and returns a copy in which
// all values are converted to the supported value types.
//
// A document is rejected (error wraps ErrInvalid) if
//   - a field name is empty, contains a NUL byte or starts with '$'
//   - a field name occurs more than once in the same (sub-)document
//   - the _id value is an array
//   - a value has an unsupported type or is a non-finite number
//   - documents and arrays are nested deeper than MaxDepth
func (d Document) Normalize() (Document, error) {
	out, err := normalizeDocument(d, "", 1)
	if err != nil {
		return Document{}, err
	}
	if id, ok := out.ID(); ok {
		if _, isArray := id.([]any); isArray {
			return Document{}, fmt.Errorf("%w: _id can not be an array", ErrInvalid)
		}
	}
	return out, nil
}

// normalizeDocument normalizes d, which is nested at the given depth
func normalizeDocument(d Document, path string, depth int) (Document, error) {
	out := Document{fields: make([]Field, 0, len(d.fields))}
	seen := make(map[string]struct{}, len(d.fields))

	for _, f := range d.fields {
		fieldPath := f.Name
		if path != "" {
			fieldPath = path + "." + f.Name
		}

		switch {
		case f.Name == "":
			return Document{}, fmt.Errorf("%w: empty field name in %q", ErrInvalid, path)
		case strings.HasPrefix(f.Name, "$"):
			return Document{}, fmt.Errorf("%w: field name %q must not start with '$'", ErrInvalid, fieldPath)
		case strings.IndexByte(f.Name, 0) >= 0:
			return Document{}, fmt.Errorf("%w: field name %q contains a NUL byte", ErrInvalid, fieldPath)
		}

		if _, dup := seen[f.Name]; dup {
			return Document{}, fmt.Errorf("%w: duplicate field %q", ErrInvalid, fieldPath)
		}
		seen[f.Name] = struct{}{}

		v, err := normalizeValue(f.Value, fieldPath, depth)
		if err != nil {
			return Document{}, err
		}
		out.fields = append(out.fields, Field{Name: f.Name, Value: v})
	}

	return out, nil
}

// NormalizeValue converts a single value to a supported value type
func NormalizeValue(v any) (any, error) {
	return normalizeValue(v, "", 0)
}

// normalizeValue normalizes v, which is a value of a container at the given depth
func normalizeValue(v any, path string, depth int) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, ObjectID:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return float64(t), nil
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return float64(t), nil
		}
		return int64(t), nil
	case float32:
		return normalizeFloat(float64(t), path)
	case float64:
		return normalizeFloat(t, path)
	case Document:
		inner, err := enter(depth)
		if err != nil {
			return nil, err
		}
		return normalizeDocument(t, path, inner)
	case *Document:
		if t == nil {
			return nil, nil
		}
		return normalizeValue(*t, path, depth)
	case []Document:
		elems := make([]any, len(t))
		for i := range t {
			elems[i] = t[i]
		}
		return normalizeValue(elems, path, depth)
	case []any:
		inner, err := enter(depth)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(t))
		for i := range t {
			elem, err := normalizeValue(t[i], fmt.Sprintf("%s.%d", path, i), inner)
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported value type %T for field %q", ErrInvalid, v, path)
	}
}

func normalizeFloat(f float64, path string) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: non-finite number for field %q", ErrInvalid, path)
	}
	return f, nil
}
