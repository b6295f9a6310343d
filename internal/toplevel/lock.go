// Package toplevel manages the dataset-root files shared by concurrent
// engine instances: the advisory lock protecting them, and the
// read-modify-write of dataset_description.json, CHANGES, participants.tsv,
// participants.json and the aggregated task-*_bold.json files (spec.md
// §4.7).
package toplevel

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bidsify/bidsify/internal/errs"
)

const lockFileName = ".bidsify.lock"

// Lock is an advisory, whole-dataset file lock (spec.md §4.7, §5): acquired
// before any read-modify-write of a top-level file, released immediately
// after.
type Lock struct {
	file *os.File
}

// Acquire blocks (politely: bounded retries with exponential backoff) until
// it holds an exclusive advisory lock on datasetRoot/.bidsify.lock, or
// until timeout elapses.
func Acquire(ctx context.Context, datasetRoot string, timeout time.Duration, maxRetries int) (*Lock, error) {
	if err := os.MkdirAll(datasetRoot, 0755); err != nil {
		return nil, errs.Filesystem(err, "failed to create dataset root %s", datasetRoot)
	}
	path := filepath.Join(datasetRoot, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.Filesystem(err, "failed to open lock file %s", path)
	}

	deadline := time.Now().Add(timeout)
	backoff := 50 * time.Millisecond
	attempt := 0
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{file: f}, nil
		}
		attempt++
		if maxRetries > 0 && attempt >= maxRetries {
			f.Close()
			return nil, errs.Filesystem(err, "exceeded %d lock attempts on %s", maxRetries, path)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, errs.Filesystem(err, "timed out after %s waiting for lock on %s", timeout, path)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, errs.Filesystem(ctx.Err(), "context canceled waiting for lock on %s", path)
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
	}
}

func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

// Release drops the advisory lock.
func (l *Lock) Release() error {
	defer l.file.Close()
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
