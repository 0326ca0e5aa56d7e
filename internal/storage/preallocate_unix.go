//go:build linux || darwin

package storage

import (
	"os"

	"github.com/detailyang/go-fallocate"
)

// preallocate reserves [offset, offset+length) of file on disk.
func preallocate(f *os.File, offset int64, length int64) error {
	return fallocate.Fallocate(f, offset, length)
}
