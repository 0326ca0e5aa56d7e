//go:build !linux && !darwin

package storage

import (
	"os"
)

func preallocate(f *os.File, offset int64, length int64) error {
	return f.Truncate(offset + length)
}
