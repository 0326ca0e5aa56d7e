package filepool

import (
	"os"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

func onEvict(_ string, value *os.File) {
	_ = value.Close()
}

var m sync.Mutex
var pool = expirable.NewLRU[string, *os.File](128, onEvict, time.Minute*10)

// Open returns a shared read-write file handle of path, creating the file if needed.
// Handle must not be closed by caller.
func Open(path string) (*os.File, error) {
	m.Lock()
	defer m.Unlock()

	if f, ok := pool.Get(path); ok {
		return f, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, os.ModePerm)
	if err != nil {
		return nil, err
	}

	pool.Add(path, f)

	return f, nil
}

// Close closes cached handle of path, if any.
func Close(path string) {
	m.Lock()
	pool.Remove(path)
	m.Unlock()
}
