//go:build !unix

package engine

import "os"

// flockFile only creates the lock file on platforms without flock
func flockFile(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return f.Close, nil
}
