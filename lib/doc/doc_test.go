package doc

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedObjectID() ObjectID {
	return ObjectID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
}

func TestDocumentFieldOrder(t *testing.T) {
	d := New(F("b", 1), F("a", 2))
	d.Set("c", 3)
	d.Set("b", 4)

	fields := d.Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, "b", fields[0].Name)
	assert.Equal(t, 4, fields[0].Value)
	assert.Equal(t, "a", fields[1].Name)
	assert.Equal(t, "c", fields[2].Name)

	assert.True(t, d.Delete("a"))
	assert.False(t, d.Delete("a"))
	assert.Equal(t, 2, d.Len())
}

func TestWithIDPutsIDFirst(t *testing.T) {
	d := New(F("x", 1), F("_id", 7)).WithID(int64(9))

	fields := d.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, IDField, fields[0].Name)
	assert.Equal(t, int64(9), fields[0].Value)
	assert.Equal(t, "x", fields[1].Name)
}

func TestKeyStructuralEquality(t *testing.T) {
	cases := []struct {
		name  string
		a, b  any
		equal bool
	}{
		{"int and float", int64(1), 1.0, true},
		{"int kinds", 1, int32(1), true},
		{"different numbers", 1, 2, false},
		{"string vs number", "1", 1, false},
		{"nil vs false", nil, false, false},
		{"arrays", []any{1, "a"}, []any{1.0, "a"}, true},
		{"array order", []any{1, 2}, []any{2, 1}, false},
		{"documents", New(F("a", 1), F("b", 2)), New(F("a", 1.0), F("b", 2)), true},
		{"document field order", New(F("a", 1), F("b", 2)), New(F("b", 2), F("a", 1)), false},
		{"object ids", fixedObjectID(), fixedObjectID(), true},
		{"object id vs hex string", fixedObjectID(), fixedObjectID().Hex(), false},
		{"fractional floats", 1.5, 1.5, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ka, err := Key(c.a)
			require.NoError(t, err)
			kb, err := Key(c.b)
			require.NoError(t, err)
			assert.Equal(t, c.equal, ka == kb, "keys %q and %q", ka, kb)
		})
	}
}

func TestIDKeyMissing(t *testing.T) {
	_, err := IDKey(New(F("a", 1)))
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	cases := map[string]Document{
		"empty name":      New(F("", 1)),
		"dollar prefix":   New(F("$set", 1)),
		"nested dollar":   New(F("a", New(F("$x", 1)))),
		"duplicate field": New(F("a", 1), F("a", 2)),
		"array id":        New(F("_id", []any{1, 2})),
		"unsupported":     New(F("a", struct{}{})),
		"nul byte":        New(F("a\x00b", 1)),
	}

	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Normalize()
			assert.True(t, errors.Is(err, ErrInvalid), "expected ErrInvalid, got %v", err)
		})
	}
}

// nestedDocument returns a document with an _id whose "a" fields nest
// documents depth levels deep
func nestedDocument(depth int) Document {
	inner := New(F("leaf", true))
	for i := 2; i < depth; i++ {
		inner = New(F("a", inner))
	}
	return New(F("_id", 1), F("a", inner))
}

func TestNestingLimit(t *testing.T) {
	ok := nestedDocument(MaxDepth)
	_, err := ok.Normalize()
	require.NoError(t, err)
	_, err = Key(ok)
	require.NoError(t, err)
	data, err := ok.MarshalJSON()
	require.NoError(t, err)
	parsed, err := Parse(string(data))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ok))

	deep := nestedDocument(MaxDepth + 1)
	_, err = deep.Normalize()
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Key(deep)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = deep.MarshalJSON()
	assert.ErrorIs(t, err, ErrInvalid)

	// arrays count like documents
	_, err = ParseValue([]byte(strings.Repeat("[", MaxDepth) + strings.Repeat("]", MaxDepth)))
	require.NoError(t, err)
	_, err = ParseValue([]byte(strings.Repeat("[", MaxDepth+1) + strings.Repeat("]", MaxDepth+1)))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseHugeNestingFailsFast(t *testing.T) {
	const n = 3_000_000
	input := `{"_id":1,"a":` + strings.Repeat("[", n) + strings.Repeat("]", n) + `}`

	_, err := Parse(input)
	assert.ErrorIs(t, err, ErrInvalid)

	var d Document
	assert.ErrorIs(t, d.UnmarshalJSON([]byte(input)), ErrInvalid)
}

func TestNormalizeConvertsValues(t *testing.T) {
	d, err := New(
		F("_id", 1),
		F("f", float32(0.5)),
		F("list", []string{"a"}),
		F("sub", []Document{New(F("x", uint8(3)))}),
	).Normalize()
	require.NoError(t, err)

	id, _ := d.ID()
	assert.Equal(t, int64(1), id)
	f, _ := d.Get("f")
	assert.Equal(t, 0.5, f)
	list, _ := d.Get("list")
	assert.Equal(t, []any{"a"}, list)
	sub, _ := d.Get("sub")
	require.Len(t, sub, 1)
	x, _ := sub.([]any)[0].(Document).Get("x")
	assert.Equal(t, int64(3), x)
}

func TestJSONRoundTrip(t *testing.T) {
	d, err := Parse(`{"_id":{"$oid":"0102030405060708090a0b0c0d0e0f10"},"n":1,"f":1.0,"s":"x","l":[true,null,{"k":2.5}]}`)
	require.NoError(t, err)

	id, _ := d.ID()
	assert.Equal(t, fixedObjectID(), id)
	n, _ := d.Get("n")
	assert.Equal(t, int64(1), n)
	f, _ := d.Get("f")
	assert.Equal(t, 1.0, f)

	b, err := d.MarshalJSON()
	require.NoError(t, err)

	again, err := Parse(string(b))
	require.NoError(t, err)
	assert.True(t, d.Equal(again))
	assert.Equal(t, string(b), again.String())
}

func TestParseRejectsNonObjects(t *testing.T) {
	for _, in := range []string{`[1,2]`, `1`, `{"a":1} {"b":2}`, `{"a":`, `{"_id":{"$oid":"zz"}}`} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestDocumentGolden(t *testing.T) {
	d := New(
		F("_id", int64(1)),
		F("name", "ada"),
		F("score", 1.0),
		F("ratio", 0.25),
		F("tags", []any{"a", "b"}),
		F("nested", New(F("x", nil), F("ok", true))),
		F("ref", fixedObjectID()),
	)

	b, err := d.MarshalJSON()
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "document", append(b, '\n'))
}

func TestObjectID(t *testing.T) {
	before := time.Now().Add(-time.Second)
	a := NewObjectID()
	b := NewObjectID()

	assert.NotEqual(t, a, b)
	assert.False(t, a.IsZero())
	assert.True(t, a.Time().After(before))

	parsed, err := ParseObjectID(a.Hex())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	_, err = ParseObjectID("abc")
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	orig := New(F("l", []any{int64(1)}), F("d", New(F("x", int64(1)))))
	c := orig.Clone()

	l, _ := c.Get("l")
	l.([]any)[0] = int64(2)

	ol, _ := orig.Get("l")
	assert.Equal(t, int64(1), ol.([]any)[0])
}
