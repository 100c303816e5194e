package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/wal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// segments returns the log segment paths, oldest first
func segments(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, filepath.Join(testPath, walDir))
	require.NoError(t, err)
	var out []string
	for _, entry := range entries {
		out = append(out, filepath.Join(testPath, walDir, entry.Name()))
	}
	return out
}

// workload runs a mix of all write operations
func workload(t *testing.T, e *Engine, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		res, err := e.Insert("a", doc.New(doc.F("_id", i), doc.F("v", i)))
		require.NoError(t, err)
		require.NoError(t, res.LastError())

		if i%3 == 0 {
			_, err = e.Update("a", doc.New(doc.F("_id", i), doc.F("v", -i)))
			require.NoError(t, err)
		}
		if i%5 == 0 {
			_, err = e.Delete("a", i)
			require.NoError(t, err)
		}
		if i%7 == 0 {
			_, err = e.Insert("b", doc.New(doc.F("_id", fmt.Sprint("k", i))))
			require.NoError(t, err)
		}
	}
}

func snapshotOf(t *testing.T, e *Engine) map[string][]string {
	t.Helper()
	out := map[string][]string{}
	for _, name := range e.Collections() {
		out[name] = dump(t, e, name)
	}
	return out
}

// --------------------------------------------------------------------------
// Replay
// --------------------------------------------------------------------------

func TestRecoveryReplaysLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openTest(t, fs, nil)
	workload(t, e, 0, 40)
	want := snapshotOf(t, e)
	last := e.LastSeq()
	require.NoError(t, e.Close())

	e = openTest(t, fs, nil)
	defer e.Close()

	report := e.RecoveryReport()
	assert.Equal(t, RecoveryReady, report.State)
	assert.Equal(t, RecoveryReady, e.RecoveryState())
	assert.Zero(t, report.CheckpointSeq)
	assert.EqualValues(t, last, report.Replayed)
	assert.Equal(t, last, report.LastSeq)
	assert.Equal(t, want, snapshotOf(t, e))

	// writes continue behind the recovered records
	res, err := e.Insert("a", byID(1000))
	require.NoError(t, err)
	assert.Equal(t, last+1, res.Outcomes[0].Seq)
}

func TestRecoveryIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openTest(t, fs, nil)
	workload(t, e, 0, 30)
	want := snapshotOf(t, e)
	require.NoError(t, e.Close())

	for i := 0; i < 3; i++ {
		e = openTest(t, fs, nil)
		assert.Equal(t, want, snapshotOf(t, e), "recovery %d", i)
		require.NoError(t, e.Close())
	}
}

func TestRecoveryDiscardsTornTail(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openTest(t, fs, nil)
	_, err := e.Insert("c", docs(1, 2, 3)...)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// half written record at the end of the log
	segs := segments(t, fs)
	f, err := fs.OpenFile(segs[len(segs)-1], os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("DDWL\x01\x02\x03"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	e = openTest(t, fs, nil)
	defer e.Close()

	assert.Equal(t, 3, e.Count("c"))
	assert.EqualValues(t, 7, e.RecoveryReport().TruncatedBytes)
	assert.EqualValues(t, 4, e.LastSeq())

	res, err := e.Insert("c", byID(4))
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Outcomes[0].Seq)
}

func TestRecoveryFailsOnMidLogCorruption(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openTest(t, fs, nil)
	_, err := e.Insert("c", docs(1, 2, 3, 4, 5)...)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	segs := segments(t, fs)
	path := segs[len(segs)-1]
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	// damage the body of the first record, intact records follow
	data[20] ^= 0xff
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))

	_, err = Open(testPath, &Options{Fs: fs})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartup)
	assert.ErrorIs(t, err, wal.ErrCorrupt)

	var cerr *wal.CorruptionError
	require.ErrorAs(t, err, &cerr)
	assert.EqualValues(t, 0, cerr.Offset)
}

func TestRecoveryFailsOnMissingLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openTest(t, fs, &Options{MaxSegmentSize: 128})
	workload(t, e, 0, 20)
	require.NoError(t, e.Close())

	// without a checkpoint the first segment is required
	segs := segments(t, fs)
	require.Greater(t, len(segs), 1)
	require.NoError(t, fs.Remove(segs[0]))

	_, err := Open(testPath, &Options{Fs: fs, MaxSegmentSize: 128})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartup)
	assert.ErrorIs(t, err, wal.ErrCorrupt)
}

// --------------------------------------------------------------------------
// Checkpoints
// --------------------------------------------------------------------------

func TestCheckpointEquivalence(t *testing.T) {
	logOnly := afero.NewMemMapFs()
	withCp := afero.NewMemMapFs()

	a := openTest(t, logOnly, nil)
	b := openTest(t, withCp, nil)

	workload(t, a, 0, 25)
	workload(t, b, 0, 25)

	seq, err := b.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, b.LastSeq(), seq)

	workload(t, a, 25, 50)
	workload(t, b, 25, 50)

	require.Equal(t, snapshotOf(t, a), snapshotOf(t, b))
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	a = openTest(t, logOnly, nil)
	defer a.Close()
	b = openTest(t, withCp, nil)
	defer b.Close()

	assert.Zero(t, a.RecoveryReport().CheckpointSeq)
	assert.Equal(t, seq, b.RecoveryReport().CheckpointSeq)
	assert.Less(t, b.RecoveryReport().Replayed, a.RecoveryReport().Replayed)

	assert.Equal(t, snapshotOf(t, a), snapshotOf(t, b))
	assert.Equal(t, a.LastSeq(), b.LastSeq())
}

func TestCheckpointOnClose(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openTest(t, fs, &Options{CheckpointOnClose: true})
	workload(t, e, 0, 10)
	last := e.LastSeq()
	require.NoError(t, e.Close())

	e = openTest(t, fs, nil)
	defer e.Close()
	assert.Equal(t, last, e.RecoveryReport().CheckpointSeq)
	assert.Zero(t, e.RecoveryReport().Replayed)
}

func TestCheckpointTruncatesLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := &Options{MaxSegmentSize: 256, KeepCheckpoints: 1}
	e := openTest(t, fs, opts)

	workload(t, e, 0, 30)
	before := len(segments(t, fs))
	_, err := e.Checkpoint()
	require.NoError(t, err)
	assert.Less(t, len(segments(t, fs)), before)

	// checkpoint without new writes is a no-op
	seq, err := e.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, e.LastSeq(), seq)

	workload(t, e, 30, 40)
	want := snapshotOf(t, e)
	require.NoError(t, e.Close())

	cps, err := listCheckpoints(fs, filepath.Join(testPath, checkpointDir))
	require.NoError(t, err)
	assert.Len(t, cps, 1)

	e = openTest(t, fs, opts)
	defer e.Close()
	assert.Equal(t, want, snapshotOf(t, e))
}

func TestCheckpointFallback(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := &Options{MaxSegmentSize: 256}
	e := openTest(t, fs, opts)

	workload(t, e, 0, 20)
	first, err := e.Checkpoint()
	require.NoError(t, err)
	workload(t, e, 20, 40)
	second, err := e.Checkpoint()
	require.NoError(t, err)
	workload(t, e, 40, 45)
	want := snapshotOf(t, e)
	require.NoError(t, e.Close())

	// damage the newest checkpoint
	path := filepath.Join(testPath, checkpointDir, checkpointName(second))
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))

	e = openTest(t, fs, opts)
	defer e.Close()
	assert.Equal(t, first, e.RecoveryReport().CheckpointSeq)
	assert.Equal(t, want, snapshotOf(t, e))
}

func TestCheckpointWithEmptyLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openTest(t, fs, &Options{MaxSegmentSize: 128, KeepCheckpoints: 1})
	workload(t, e, 0, 10)
	seq, err := e.Checkpoint()
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// remove the whole log, the checkpoint covers everything
	for _, path := range segments(t, fs) {
		require.NoError(t, fs.Remove(path))
	}

	e = openTest(t, fs, nil)
	defer e.Close()
	assert.Equal(t, seq, e.LastSeq())

	res, err := e.Insert("a", byID(500))
	require.NoError(t, err)
	assert.Equal(t, seq+1, res.Outcomes[0].Seq)
}

func TestBackgroundCheckpoints(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openTest(t, fs, &Options{CheckpointEvery: 10})
	defer e.Close()

	for i := 0; i < 25; i++ {
		_, err := e.Insert("c", byID(i))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return e.checkpointSeq.Load() >= 10
	}, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, e.Info().Checkpoints)
}

func TestCheckpointNames(t *testing.T) {
	name := checkpointName(42)
	assert.Equal(t, "checkpoint_0000000000000042.snap", name)

	seq, ok := parseCheckpointName(name)
	assert.True(t, ok)
	assert.EqualValues(t, 42, seq)

	for _, bad := range []string{"checkpoint_42.snap", "checkpoint_0000000000000042.snap.tmp", "wal_0000000000000001.log"} {
		_, ok := parseCheckpointName(bad)
		assert.False(t, ok, bad)
	}
}

func TestDecodeCheckpointRejectsGarbage(t *testing.T) {
	_, _, err := decodeCheckpoint([]byte("short"))
	assert.Error(t, err)

	_, _, err = decodeCheckpoint(make([]byte, 64))
	assert.Error(t, err)
}

// --------------------------------------------------------------------------
// Abrupt termination
// --------------------------------------------------------------------------

// crashImage copies the files of fs as they are right now. An engine that
// is never closed leaves exactly this state behind when the process dies.
func crashImage(t *testing.T, fs afero.Fs) afero.Fs {
	t.Helper()
	image := afero.NewMemMapFs()
	err := afero.Walk(fs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return image.MkdirAll(path, 0o755)
		}
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		return afero.WriteFile(image, path, data, 0o644)
	})
	require.NoError(t, err)
	return image
}

func TestDuplicatePairThenGeneratedIDSurvivesCrash(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openTest(t, fs, nil)
	defer e.Close()

	res, err := e.Insert("c", byID(1), byID(1))
	require.NoError(t, err)
	assert.Equal(t, 0, res.N)
	assert.ErrorIs(t, res.Outcomes[0].Err, ErrAborted)
	assert.ErrorIs(t, res.Outcomes[1].Err, ErrDuplicateKey)
	assert.Equal(t, 0, e.Count("c"))

	res, err = e.Insert("c", doc.New())
	require.NoError(t, err)
	require.Equal(t, 1, res.N)
	generated := res.Outcomes[0].ID
	require.IsType(t, doc.ObjectID{}, generated)
	assert.Equal(t, 1, e.Count("c"))

	// no Close: no final flush, no checkpoint
	recovered := openTest(t, crashImage(t, fs), nil)
	defer recovered.Close()

	assert.Zero(t, recovered.RecoveryReport().CheckpointSeq)
	assert.Equal(t, 1, recovered.Count("c"))

	d, err := recovered.Get("c", generated)
	require.NoError(t, err)
	assert.Equal(t, doc.New(doc.F("_id", generated)).String(), d.String())

	_, err = recovered.Get("c", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcknowledgedWritesSurviveCrash(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openTest(t, fs, nil)
	defer e.Close()

	workload(t, e, 0, 25)

	// rejected writes must leave no trace
	res, err := e.Insert("a", doc.New(doc.F("_id", 1), doc.F("v", "rejected")))
	require.NoError(t, err)
	assert.ErrorIs(t, res.LastError(), ErrDuplicateKey)
	_, err = e.Update("a", doc.New(doc.F("_id", 5), doc.F("v", "rejected")))
	assert.ErrorIs(t, err, ErrNotFound)
	res, err = e.Insert("a", doc.New(doc.F("_id", 100), doc.F("$bad", 1)))
	require.NoError(t, err)
	assert.ErrorIs(t, res.LastError(), ErrMalformed)

	want := snapshotOf(t, e)
	last := e.LastSeq()

	recovered := openTest(t, crashImage(t, fs), nil)
	defer recovered.Close()

	assert.Equal(t, want, snapshotOf(t, recovered))
	assert.Equal(t, last, recovered.LastSeq())
	assert.EqualValues(t, last, recovered.RecoveryReport().Replayed)
}
