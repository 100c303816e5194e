package doc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Extended JSON encoding
// --------------------------------------------------------------------------

/*
	Documents are encoded as JSON objects with their fields in document order.
	ObjectIDs are written as {"$oid":"<hex>"}, floats that are integral keep a
	trailing ".0" so that int64 and float64 survive a round trip.
*/

// MarshalJSON implements json.Marshaler
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, d, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Document) UnmarshalJSON(data []byte) error {
	v, err := ParseValue(data)
	if err != nil {
		return err
	}
	parsed, ok := v.(Document)
	if !ok {
		return fmt.Errorf("%w: expected a JSON object, got %T", ErrInvalid, v)
	}
	*d = parsed
	return nil
}

// Parse decodes a document from its extended JSON representation
func Parse(s string) (Document, error) {
	var d Document
	if err := d.UnmarshalJSON([]byte(s)); err != nil {
		return Document{}, err
	}
	return d, nil
}

// MarshalValue encodes a single value as extended JSON
func MarshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseValue decodes a single extended JSON value
func ParseValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := readValue(dec, 0)
	if errors.Is(err, ErrInvalid) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	// only whitespace may follow
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after value", ErrInvalid)
	}
	return v, nil
}

// writeJSON appends the encoding of v, which is a value of a container at
// the given depth
func writeJSON(buf *bytes.Buffer, v any, depth int) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("%w: non-finite number", ErrInvalid)
		}
		s := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		buf.WriteString(s)
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case ObjectID:
		buf.WriteString(`{"$oid":"`)
		buf.WriteString(t.Hex())
		buf.WriteString(`"}`)
	case []any:
		inner, err := enter(depth)
		if err != nil {
			return err
		}
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, elem, inner); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Document:
		inner, err := enter(depth)
		if err != nil {
			return err
		}
		buf.WriteByte('{')
		for i, f := range t.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(f.Name)
			if err != nil {
				return err
			}
			buf.Write(name)
			buf.WriteByte(':')
			if err := writeJSON(buf, f.Value, inner); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		n, err := NormalizeValue(v)
		if err != nil {
			return err
		}
		return writeJSON(buf, n, depth)
	}
	return nil
}

// readValue reads the next value from the token stream. depth is the
// nesting of the enclosing container.
func readValue(dec *json.Decoder, depth int) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return valueFromToken(dec, tok, depth)
}

func valueFromToken(dec *json.Decoder, tok json.Token, depth int) (any, error) {
	switch t := tok.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		return t, nil
	case json.Number:
		return parseNumber(t)
	case json.Delim:
		if t != '{' && t != '[' {
			break
		}
		inner, err := enter(depth)
		if err != nil {
			return nil, err
		}
		if t == '{' {
			return readObject(dec, inner)
		}
		return readArray(dec, inner)
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func readObject(dec *json.Decoder, depth int) (any, error) {
	d := Document{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected field name, got %v", tok)
		}
		v, err := readValue(dec, depth)
		if err != nil {
			return nil, err
		}
		d.fields = append(d.fields, Field{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, err
	}

	// {"$oid": "..."} is an ObjectID
	if len(d.fields) == 1 && d.fields[0].Name == "$oid" {
		if s, ok := d.fields[0].Value.(string); ok {
			return ParseObjectID(s)
		}
	}
	return d, nil
}

func readArray(dec *json.Decoder, depth int) (any, error) {
	out := make([]any, 0)
	for dec.More() {
		v, err := readValue(dec, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if _, err := dec.Token(); err != nil { // closing ']'
		return nil, err
	}
	return out, nil
}

func parseNumber(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return f, nil
}
