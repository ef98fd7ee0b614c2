package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

const numStripes = 256

// stripes serialises rebuilds of the same path inside one process.
type stripes [numStripes]sync.Mutex

// lockEntry takes the in-process stripe and the cross-process lock file for
// hash h. Lock files are shared by all hashes with the same low byte, so two
// processes may serialise on unrelated paths but never race on one.
func (s *Store) lockEntry(h uint64) (unlock func(), err error) {
	mu := &s.stripes[h%numStripes]
	mu.Lock()

	dir := s.shardDir(h)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("cannot create shard %s: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, fmt.Sprintf(".lock-%02x", byte(h))))
	if err := fl.Lock(); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("cannot lock %s: %w", fl.Path(), err)
	}
	return func() {
		_ = fl.Unlock()
		mu.Unlock()
	}, nil
}

// lockShard takes the lock that serialises packing of one shard.
func lockShard(dir string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(dir, ".pack.lock"))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("cannot lock %s: %w", fl.Path(), err)
	}
	return fl, nil
}
