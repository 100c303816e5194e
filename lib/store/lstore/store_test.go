package lstore

import (
	"testing"

	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/engine"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (store.IStore, *engine.Engine) {
	t.Helper()
	e, err := engine.Open("/db", &engine.Options{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return NewLocalStore(e), e
}

func TestInsert(t *testing.T) {
	s, _ := newStore(t)

	res, err := s.Insert("c", doc.New(doc.F("_id", 1)), doc.New(doc.F("name", "no id")))
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Equal(t, 2, res.N)
	require.Len(t, res.InsertedIDs, 2)
	assert.Equal(t, int64(1), res.InsertedIDs[0])
	assert.IsType(t, doc.ObjectID{}, res.InsertedIDs[1])

	res, err = s.Insert("c", doc.New(doc.F("_id", 2)), doc.New(doc.F("_id", 1)))
	require.NoError(t, err)
	assert.False(t, res.Ok())
	assert.Equal(t, 1, res.N)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, store.RetCDuplicateKey, res.Errors[0].Code)
	assert.Equal(t, store.RetCDuplicateKey, res.LastError().Code)

	n, err := s.Count("c")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestInsertAbortedBatch(t *testing.T) {
	s, _ := newStore(t)

	res, err := s.Insert("fresh", doc.New(doc.F("_id", 1)), doc.New(doc.F("_id", 1)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.N)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, store.RetCAborted, res.Errors[0].Code)
	assert.Equal(t, store.RetCDuplicateKey, res.Errors[1].Code)
}

func TestGetUpdateDelete(t *testing.T) {
	s, _ := newStore(t)

	_, found, err := s.Get("c", 1)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.Insert("c", doc.New(doc.F("_id", 1), doc.F("v", "a")))
	require.NoError(t, err)

	res, err := s.Update("c", doc.New(doc.F("_id", 1), doc.F("v", "b")))
	require.NoError(t, err)
	assert.Equal(t, 1, res.N)

	d, found, err := s.Get("c", 1)
	require.NoError(t, err)
	require.True(t, found)
	v, _ := d.Get("v")
	assert.Equal(t, "b", v)

	res, err = s.Update("c", doc.New(doc.F("_id", 2)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.N)
	assert.Equal(t, store.RetCNotFound, res.LastError().Code)

	res, err = s.Delete("c", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.N)

	res, err = s.Delete("c", 1)
	require.NoError(t, err)
	assert.Equal(t, store.RetCNotFound, res.LastError().Code)

	_, _, err = s.Get("c", []any{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, &store.Error{Code: store.RetCMalformed})
}

func TestDrop(t *testing.T) {
	s, _ := newStore(t)

	dropped, err := s.Drop("c")
	require.NoError(t, err)
	assert.False(t, dropped)

	_, err = s.Insert("c", doc.New(doc.F("_id", 1)))
	require.NoError(t, err)

	dropped, err = s.Drop("c")
	require.NoError(t, err)
	assert.True(t, dropped)

	n, err := s.Count("c")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFsync(t *testing.T) {
	s, _ := newStore(t)

	require.NoError(t, s.Fsync(false))
	require.NoError(t, s.Fsync(true))

	err := s.Fsync(true)
	assert.ErrorIs(t, err, &store.Error{Code: store.RetCInvalidOperation})

	require.NoError(t, s.FsyncUnlock())
	err = s.FsyncUnlock()
	assert.ErrorIs(t, err, &store.Error{Code: store.RetCInvalidOperation})
}

func TestClosedEngine(t *testing.T) {
	s, e := newStore(t)
	require.NoError(t, e.Close())

	_, err := s.Insert("c", doc.New(doc.F("_id", 1)))
	assert.ErrorIs(t, err, &store.Error{Code: store.RetCInvalidOperation})
}

func TestGetDBInfo(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.Insert("a", doc.New(doc.F("_id", 1)), doc.New(doc.F("_id", 2)))
	require.NoError(t, err)
	_, err = s.Insert("b", doc.New(doc.F("_id", 1)))
	require.NoError(t, err)

	info, err := s.GetDBInfo()
	require.NoError(t, err)
	assert.Equal(t, 3, info.Count)
	assert.NotEmpty(t, info.SupportedFeatures)
	assert.IsType(t, engine.Info{}, info.Metadata)
}
