package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// WakeLockKind classifies screen-retention lock failures.
type WakeLockKind int

const (
	WakeLockUnsupported WakeLockKind = iota + 1
	WakeLockAcquisitionFailed
)

func (k WakeLockKind) String() string {
	switch k {
	case WakeLockUnsupported:
		return "unsupported"
	case WakeLockAcquisitionFailed:
		return "acquisition failed"
	default:
		return "unknown"
	}
}

// WakeLockError is always non-fatal; callers log it and continue.
type WakeLockError struct {
	Kind WakeLockKind
	Err  error
}

func (e *WakeLockError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wake lock %s: %v", e.Kind, e.Err)
	}
	return "wake lock " + e.Kind.String()
}

func (e *WakeLockError) Unwrap() error { return e.Err }

// ErrWakeLockUnsupported is returned when no lock mechanism is configured.
var ErrWakeLockUnsupported = &WakeLockError{Kind: WakeLockUnsupported}

// Is matches any WakeLockError of the same kind.
func (e *WakeLockError) Is(target error) bool {
	var other *WakeLockError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// WakeLock is a best-effort request to keep the device awake while monitoring.
type WakeLock interface {
	Acquire() error
	Release() error
}

// FileWakeLock holds an exclusive flock on a sentinel file for as long as
// monitoring is active. Power-management hooks watching the file can inhibit
// sleep while it is held.
type FileWakeLock struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
	held bool
}

// NewWakeLock returns a flock-backed lock, or an always-unsupported lock when
// path is empty.
func NewWakeLock(path string) WakeLock {
	if path == "" {
		return unsupportedWakeLock{}
	}
	return &FileWakeLock{path: path, lock: flock.New(path)}
}

// Acquire takes the lock without blocking. Holding it already is a no-op.
func (w *FileWakeLock) Acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.held {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return &WakeLockError{Kind: WakeLockAcquisitionFailed, Err: err}
	}
	ok, err := w.lock.TryLock()
	if err != nil {
		return &WakeLockError{Kind: WakeLockAcquisitionFailed, Err: err}
	}
	if !ok {
		return &WakeLockError{Kind: WakeLockAcquisitionFailed, Err: errors.New("held by another process")}
	}
	w.held = true
	return nil
}

// Release drops the lock if held.
func (w *FileWakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.held {
		return nil
	}
	w.held = false
	return w.lock.Unlock()
}

// Held reports whether this process holds the lock.
func (w *FileWakeLock) Held() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.held
}

type unsupportedWakeLock struct{}

func (unsupportedWakeLock) Acquire() error { return ErrWakeLockUnsupported }
func (unsupportedWakeLock) Release() error { return nil }

var _ WakeLock = (*FileWakeLock)(nil)
