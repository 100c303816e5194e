package doc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Key returns the canonical key of a value. Two values have the same key
// if and only if they are structurally equal:
//   - numbers compare by numeric value (1 == 1.0)
//   - strings, booleans, nil and ObjectIDs compare by value and type
//   - arrays compare element by element
//   - documents compare field by field in order
//
// The key is used by the constraint index and the document store to
// identify documents by their _id.
func Key(v any) (string, error) {
	var sb strings.Builder
	if err := writeKey(&sb, v, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// IDKey returns the canonical key of the document's _id field
func IDKey(d Document) (string, error) {
	id, ok := d.ID()
	if !ok {
		return "", fmt.Errorf("%w: missing %s field", ErrInvalid, IDField)
	}
	return Key(id)
}

// writeKey appends the key of v, which is a value of a container at the
// given depth
func writeKey(sb *strings.Builder, v any, depth int) error {
	switch t := v.(type) {
	case nil:
		sb.WriteByte('z')
	case bool:
		if t {
			sb.WriteString("b1")
		} else {
			sb.WriteString("b0")
		}
	case int64:
		sb.WriteByte('n')
		sb.WriteString(strconv.FormatInt(t, 10))
	case float64:
		sb.WriteByte('n')
		sb.WriteString(canonicalFloat(t))
	case string:
		sb.WriteByte('s')
		sb.WriteString(strconv.Quote(t))
	case ObjectID:
		sb.WriteByte('o')
		sb.WriteString(t.Hex())
	case []any:
		inner, err := enter(depth)
		if err != nil {
			return err
		}
		sb.WriteString("a[")
		for i, elem := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeKey(sb, elem, inner); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case Document:
		inner, err := enter(depth)
		if err != nil {
			return err
		}
		sb.WriteByte('{')
		for i, f := range t.fields {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(f.Name))
			sb.WriteByte(':')
			if err := writeKey(sb, f.Value, inner); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		// not normalized yet
		n, err := NormalizeValue(v)
		if err != nil {
			return err
		}
		return writeKey(sb, n, depth)
	}
	return nil
}

// canonicalFloat renders integral floats like integers so that 1 and 1.0
// share a key
func canonicalFloat(f float64) string {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
