package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled and the registry lives
// in memory only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// IOError wraps a failed read or write of the backing store.
type IOError struct {
	Op   string // "load" | "save"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsNotExist reports whether err means the backing store has never been
// written.
func IsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }
