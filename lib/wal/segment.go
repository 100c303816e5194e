package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	segmentPrefix = "wal_"
	segmentSuffix = ".log"
)

// segment is a single log file. Its name carries the sequence number of
// the first record written to it.
type segment struct {
	firstSeq uint64
	path     string
}

func segmentName(firstSeq uint64) string {
	return fmt.Sprintf("%s%016d%s", segmentPrefix, firstSeq, segmentSuffix)
}

// parseSegmentName returns the first sequence number encoded in a segment file name
func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	num := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
	seq, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// listSegments returns all segments of dir ordered by their first sequence number
func listSegments(fs afero.Fs, dir string) ([]segment, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}

	var segs []segment
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if seq, ok := parseSegmentName(info.Name()); ok {
			segs = append(segs, segment{firstSeq: seq, path: filepath.Join(dir, info.Name())})
		}
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].firstSeq < segs[j].firstSeq })
	return segs, nil
}

// openSegment opens (or creates) a segment for appending
func openSegment(fs afero.Fs, path string) (afero.File, int64, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, 0, err
	}
	size, err := f.Seek(0, 2)
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, size, nil
}

// syncDir fsyncs a directory so that created, renamed or removed files are durable
func syncDir(fs afero.Fs, dir string) error {
	d, err := fs.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// SyncDir is exported for other components that publish files next to the log
func SyncDir(fs afero.Fs, dir string) error {
	return syncDir(fs, dir)
}
