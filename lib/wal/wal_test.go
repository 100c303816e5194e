package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

const testDir = "/data/wal"

// faultyFs fails every file Sync once failSync is set
type faultyFs struct {
	afero.Fs
	failSync atomic.Bool
}

type faultyFile struct {
	afero.File
	fs *faultyFs
}

func (f *faultyFile) Sync() error {
	if f.fs.failSync.Load() {
		return errors.New("injected fsync failure")
	}
	return f.File.Sync()
}

func (fs *faultyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := fs.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: f, fs: fs}, nil
}

func collect(t *testing.T, w *WAL, from uint64) []Record {
	t.Helper()
	var recs []Record
	for rec, err := range w.ReadFrom(from) {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func appendN(t *testing.T, w *WAL, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := w.Append(KindInsert, "c", []byte(fmt.Sprintf(`{"_id":%d}`, i)))
		require.NoError(t, err)
	}
}

func onlySegment(t *testing.T, fs afero.Fs) string {
	t.Helper()
	segs, err := listSegments(fs, testDir)
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	return segs[len(segs)-1].path
}

// --------------------------------------------------------------------------
// Frame codec
// --------------------------------------------------------------------------

func TestFrameRoundTrip(t *testing.T) {
	rec := Record{Seq: 42, Kind: KindUpdate, Collection: "users", Payload: []byte(`{"_id":1}`)}
	frame, err := encodeFrame(rec)
	require.NoError(t, err)

	got, n, err := decodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)
	assert.Equal(t, rec, got)

	for i := 0; i < len(frame); i++ {
		damaged := append([]byte(nil), frame...)
		damaged[i] ^= 0xff
		_, _, err := decodeFrame(damaged)
		assert.Error(t, err, "flipped byte %d", i)
	}

	_, _, err = decodeFrame(frame[:len(frame)-1])
	assert.ErrorIs(t, err, errShortFrame)
}

// --------------------------------------------------------------------------
// Append & Read
// --------------------------------------------------------------------------

func TestAppendAndRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), w.FirstSeq())
	assert.Equal(t, uint64(0), w.LastSeq())

	seq, err := w.Append(KindCreate, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = w.Append(KindInsert, "users", []byte(`{"_id":1}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	recs := collect(t, w, 1)
	require.Len(t, recs, 2)
	assert.Equal(t, KindCreate, recs[0].Kind)
	assert.Nil(t, recs[0].Payload)
	assert.Equal(t, `{"_id":1}`, string(recs[1].Payload))

	// the iterator is restartable and honours from
	assert.Len(t, collect(t, w, 2), 1)
	assert.Empty(t, collect(t, w, 3))

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Appends)
	assert.Equal(t, uint64(2), stats.SyncedSeq)
	assert.False(t, stats.Failed)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrClosed)

	_, err = w.Append(KindInsert, "users", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInvalidRecordKeepsLogUsable(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, nil)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(KindCreate, strings.Repeat("c", maxCollection+1), nil)
	require.ErrorIs(t, err, ErrInvalidRecord)
	assert.NotErrorIs(t, err, ErrDurability)
	assert.NoError(t, w.Err())
	assert.Equal(t, uint64(0), w.LastSeq())

	seq, err := w.Append(KindCreate, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.False(t, w.Stats().Failed)
}

func TestReopenContinuesSequence(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, nil)
	require.NoError(t, err)
	appendN(t, w, 5)
	require.NoError(t, w.Close())

	w, err = Open(fs, testDir, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, uint64(1), w.FirstSeq())
	assert.Equal(t, uint64(5), w.LastSeq())

	seq, err := w.Append(KindDelete, "c", []byte("1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), seq)

	recs := collect(t, w, 1)
	require.Len(t, recs, 6)
	for i, rec := range recs {
		assert.Equal(t, uint64(i+1), rec.Seq)
	}
}

func TestConcurrentAppendsAreGapless(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, nil)
	require.NoError(t, err)
	defer w.Close()

	const writers, perWriter = 16, 50

	var (
		mu   sync.Mutex
		seqs []uint64
		wg   sync.WaitGroup
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				seq, err := w.Append(KindInsert, fmt.Sprintf("c%d", i), []byte("x"))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seqs = append(seqs, seq)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	require.Len(t, seqs, writers*perWriter)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}

	assert.Len(t, collect(t, w, 1), writers*perWriter)
	assert.LessOrEqual(t, w.Stats().Fsyncs, int64(writers*perWriter))
}

// --------------------------------------------------------------------------
// Segments
// --------------------------------------------------------------------------

func TestRotationAndTruncate(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, &Options{MaxSegmentSize: 128})
	require.NoError(t, err)

	appendN(t, w, 20)

	segs, err := listSegments(fs, testDir)
	require.NoError(t, err)
	require.Greater(t, len(segs), 2)
	assert.Equal(t, uint64(1), segs[0].firstSeq)

	recs := collect(t, w, 10)
	require.Len(t, recs, 11)
	assert.Equal(t, uint64(10), recs[0].Seq)

	removed, err := w.TruncateBefore(10)
	require.NoError(t, err)
	assert.Greater(t, removed, 0)
	assert.LessOrEqual(t, w.FirstSeq(), uint64(10))
	assert.Greater(t, w.FirstSeq(), uint64(1))

	// records from 10 on are still readable
	assert.Len(t, collect(t, w, 10), 11)

	// the active segment always survives
	_, err = w.TruncateBefore(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Stats().Segments)
	assert.Equal(t, uint64(20), w.LastSeq())

	require.NoError(t, w.Close())

	w, err = Open(fs, testDir, &Options{MaxSegmentSize: 128})
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, uint64(20), w.LastSeq())

	seq, err := w.Append(KindInsert, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), seq)
}

func TestSkipTo(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, nil)
	require.NoError(t, err)

	require.NoError(t, w.SkipTo(100))
	assert.Equal(t, uint64(0), w.FirstSeq())

	seq, err := w.Append(KindInsert, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), seq)
	assert.Error(t, w.SkipTo(200))
	require.NoError(t, w.Close())

	w, err = Open(fs, testDir, nil)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, uint64(100), w.FirstSeq())
	assert.Equal(t, uint64(100), w.LastSeq())
}

// --------------------------------------------------------------------------
// Damage
// --------------------------------------------------------------------------

func TestTornTailIsTruncated(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, nil)
	require.NoError(t, err)
	appendN(t, w, 3)
	require.NoError(t, w.Close())

	path := onlySegment(t, fs)
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, data[:len(data)-4], 0o644))

	w, err = Open(fs, testDir, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, uint64(2), w.LastSeq())
	assert.Greater(t, w.Stats().TruncatedBytes, int64(0))
	assert.Len(t, collect(t, w, 1), 2)

	seq, err := w.Append(KindInsert, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestFlippedTailByteIsTruncated(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, nil)
	require.NoError(t, err)
	appendN(t, w, 3)
	require.NoError(t, w.Close())

	path := onlySegment(t, fs)
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))

	w, err = Open(fs, testDir, nil)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, uint64(2), w.LastSeq())
}

func TestDamageBeforeIntactRecordIsCorruption(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, nil)
	require.NoError(t, err)
	appendN(t, w, 3)
	require.NoError(t, w.Close())

	path := onlySegment(t, fs)
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	// damage the payload of the second record
	_, n, err := decodeFrame(data)
	require.NoError(t, err)
	data[n+frameHeaderSize+bodyHeaderSize+1] ^= 0xff
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))

	_, err = Open(fs, testDir, nil)
	require.ErrorIs(t, err, ErrCorrupt)

	var cerr *CorruptionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, int64(n), cerr.Offset)
}

func TestDamageInOlderSegmentIsCorruption(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, &Options{MaxSegmentSize: 64})
	require.NoError(t, err)
	appendN(t, w, 6)
	require.NoError(t, w.Close())

	segs, err := listSegments(fs, testDir)
	require.NoError(t, err)
	require.Greater(t, len(segs), 1)

	data, err := afero.ReadFile(fs, segs[0].path)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, segs[0].path, data[:len(data)-2], 0o644))

	_, err = Open(fs, testDir, &Options{MaxSegmentSize: 64})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestMissingSegmentIsCorruption(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, testDir, &Options{MaxSegmentSize: 64})
	require.NoError(t, err)
	appendN(t, w, 8)
	require.NoError(t, w.Close())

	segs, err := listSegments(fs, testDir)
	require.NoError(t, err)
	require.Greater(t, len(segs), 2)
	require.NoError(t, fs.Remove(segs[1].path))

	_, err = Open(fs, testDir, &Options{MaxSegmentSize: 64})
	assert.ErrorIs(t, err, ErrCorrupt)
}

// --------------------------------------------------------------------------
// Durability failures
// --------------------------------------------------------------------------

func TestFsyncFailureIsSticky(t *testing.T) {
	fs := &faultyFs{Fs: afero.NewMemMapFs()}
	w, err := Open(fs, testDir, nil)
	require.NoError(t, err)

	appendN(t, w, 2)

	fs.failSync.Store(true)
	_, err = w.Append(KindInsert, "c", []byte("lost"))
	require.ErrorIs(t, err, ErrDurability)
	assert.ErrorIs(t, w.Err(), ErrDurability)

	// the log stays failed even after the fault is gone
	fs.failSync.Store(false)
	_, err = w.Append(KindInsert, "c", []byte("refused"))
	assert.ErrorIs(t, err, ErrDurability)
	assert.True(t, w.Stats().Failed)
	_ = w.Close()

	w, err = Open(fs, testDir, nil)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, uint64(2), w.LastSeq())
	assert.Len(t, collect(t, w, 1), 2)
}

func TestSegmentNames(t *testing.T) {
	name := segmentName(42)
	assert.Equal(t, "wal_0000000000000042.log", name)

	seq, ok := parseSegmentName(name)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), seq)

	for _, bad := range []string{"wal_x.log", "wal_1.txt", "LOCK", filepath.Join("a", "b")} {
		_, ok := parseSegmentName(bad)
		assert.False(t, ok, bad)
	}
}
