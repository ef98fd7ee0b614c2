// Package store is the persistent per-file bitmap cache. Entries are keyed
// by absolute path and validated against the file's modification time.
//
// Layout under the cache root:
//
//	meta.yaml              n-gram parameters the root was built with
//	<xx>/                  shard: first byte of the path's xxhash64, in hex
//	<xx>/<hash>_<NNN>      loose entry, NNN is the collision slot
//	<xx>/pack              consolidated entries with a sorted hash index
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kamusis/fourgrep/internal/bitmap"
	"github.com/kamusis/fourgrep/internal/gram"
	"github.com/kamusis/fourgrep/internal/logging"
)

// maxSlots bounds the collision chain of one hash.
const maxSlots = 1000

var (
	// ErrConfigMismatch means the cache root was stamped with other n-gram
	// parameters. Bitmaps built with different parameters are not comparable.
	ErrConfigMismatch = errors.New("cache root was built with different n-gram parameters")
	// ErrCorrupt marks an entry, pack or stamp that cannot be decoded.
	ErrCorrupt = errors.New("corrupt cache data")
	// ErrSlotsFull is returned when every collision slot of a hash is taken.
	ErrSlotsFull = errors.New("no free cache slot")
	// ErrUnreadable wraps Rebuild failures on the source file itself.
	ErrUnreadable = errors.New("source file unreadable")
)

// State is the outcome of a Lookup.
type State int

const (
	// Missing: no entry for the path.
	Missing State = iota
	// Hit: an entry exists and its mtime matches the file.
	Hit
	// Stale: an entry exists but the file changed since.
	Stale
	// Gone: the file itself cannot be stat'd.
	Gone
)

func (s State) String() string {
	switch s {
	case Missing:
		return "missing"
	case Hit:
		return "hit"
	case Stale:
		return "stale"
	case Gone:
		return "gone"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result is returned by Lookup. Bitmap is set only on Hit.
type Result struct {
	State   State
	Bitmap  *bitmap.Bitmap
	ModTime time.Time
}

// Options tunes a Store. The zero value stores uncompressed bitmaps and
// discards logs.
type Options struct {
	Codec  bitmap.Codec
	Logger *slog.Logger
}

// Store is safe for concurrent use by multiple goroutines and processes.
type Store struct {
	root   string
	params gram.Params
	codec  bitmap.Codec
	log    *slog.Logger

	stripes stripes

	packMu    sync.Mutex
	packIndex map[string]*packIndex
}

// Open opens (creating if needed) the cache rooted at root. A root stamped
// with other parameters fails with ErrConfigMismatch.
func Open(root string, p gram.Params, opts Options) (*Store, error) {
	s, err := newStore(root, p, opts)
	if err != nil {
		return nil, err
	}
	if err := s.checkStamp(); err != nil {
		return nil, err
	}
	return s, nil
}

// Recreate wipes every entry under root and stamps it with p. It is the
// recovery path for ErrConfigMismatch.
func Recreate(root string, p gram.Params, opts Options) (*Store, error) {
	s, err := newStore(root, p, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Clear(); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(root string, p gram.Params, opts Options) (*Store, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create cache root %s: %w", root, err)
	}
	return &Store{
		root:      root,
		params:    p,
		codec:     opts.Codec,
		log:       logging.OrDiscard(opts.Logger).With("root", root),
		packIndex: make(map[string]*packIndex),
	}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// Params returns the n-gram parameters of the cache.
func (s *Store) Params() gram.Params { return s.params }

func (s *Store) shardDir(h uint64) string {
	return filepath.Join(s.root, fmt.Sprintf("%02x", byte(h>>56)))
}

func loosePath(dir string, h uint64, slot int) string {
	return filepath.Join(dir, fmt.Sprintf("%016x_%03d", h, slot))
}

// maxPayload bounds a stored payload: a raw bitmap plus worst-case codec
// expansion.
func (s *Store) maxPayload() int {
	n := s.params.BitmapBytes()
	return n + n/16 + 1024
}

// Key returns the cache key of path: absolute, with symlinks resolved as far
// as the path exists.
func Key(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// a deleted file keeps the key it had while its directory exists
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(dir, filepath.Base(abs)), nil
	}
	return abs, nil
}

func hashKey(key string) uint64 { return xxhash.Sum64String(key) }

// Lookup stats path and reports the state of its cache entry. The returned
// error is reserved for cache-level failures; a missing file is State Gone.
func (s *Store) Lookup(path string) (Result, error) {
	key, err := Key(path)
	if err != nil {
		return Result{State: Gone}, nil
	}
	info, err := os.Stat(key)
	if err != nil || info.IsDir() {
		return Result{State: Gone}, nil
	}
	res := Result{State: Missing, ModTime: info.ModTime()}

	rec, where, found, err := s.find(key)
	if err != nil || !found || rec.tombstone() {
		return res, err
	}
	if rec.mtime != info.ModTime().UnixNano() {
		res.State = Stale
		return res, nil
	}
	bm, err := bitmap.Decode(s.params, rec.codec, rec.payload)
	if err != nil {
		s.log.Warn("dropping undecodable cache entry", "path", key, "entry", where, "error", err)
		if where != "" {
			_ = os.Remove(where)
		}
		return res, nil
	}
	res.State = Hit
	res.Bitmap = bm
	return res, nil
}

// find returns the live record for key: the loose entry when there is one,
// else the packed one. where names the loose file, empty for packed records.
func (s *Store) find(key string) (rec record, where string, found bool, err error) {
	h := hashKey(key)
	dir := s.shardDir(h)
	rec, slot, found, err := s.scanLoose(dir, h, key)
	if err != nil {
		return record{}, "", false, err
	}
	if found {
		return rec, loosePath(dir, h, slot), true, nil
	}
	rec, found, err = s.findPacked(dir, h, key)
	return rec, "", found, err
}

// scanLoose walks the collision slots of h. When key is found its slot is
// returned; otherwise slot is the first free one. Corrupt entries are
// removed; empty ones are skipped because another process may be creating
// them.
func (s *Store) scanLoose(dir string, h uint64, key string) (rec record, slot int, found bool, err error) {
	free := -1
	for i := 0; i < maxSlots; i++ {
		p := loosePath(dir, h, i)
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			if free < 0 {
				free = i
			}
			return record{}, free, false, nil
		}
		if err != nil {
			return record{}, 0, false, fmt.Errorf("cannot read cache entry %s: %w", p, err)
		}
		if len(data) == 0 {
			continue
		}
		r, err := parseRecord(data, s.maxPayload())
		if err != nil {
			s.log.Warn("removing corrupt cache entry", "entry", p, "error", err)
			if os.Remove(p) == nil && free < 0 {
				free = i
			}
			continue
		}
		if r.name == key {
			return r, i, true, nil
		}
	}
	if free < 0 {
		return record{}, 0, false, fmt.Errorf("%w: hash %016x", ErrSlotsFull, h)
	}
	return record{}, free, false, nil
}

// putLoose writes rec into key's slot. The caller holds the entry lock.
func (s *Store) putLoose(h uint64, rec record) error {
	dir := s.shardDir(h)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create shard %s: %w", dir, err)
	}
	_, slot, _, err := s.scanLoose(dir, h, rec.name)
	if err != nil {
		return err
	}
	return writeFileAtomic(loosePath(dir, h, slot), rec.marshal())
}

// Rebuild reads path, stores a fresh bitmap for it and returns the bitmap
// with the modification time it was stored under. The mtime is taken from
// the opened file before reading, so a concurrent write leaves the entry
// Stale rather than wrongly fresh.
//
// Only failures on the source file are returned, wrapped in ErrUnreadable.
// When the entry cannot be locked or persisted the bitmap is still built and
// returned, and the failure is logged.
func (s *Store) Rebuild(path string) (*bitmap.Bitmap, time.Time, error) {
	key, err := Key(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	h := hashKey(key)
	unlock, lockErr := s.lockEntry(h)
	if lockErr != nil {
		s.log.Warn("cannot lock cache entry, indexing without caching", "path", key, "error", lockErr)
	} else {
		defer unlock()
	}

	bm, mtime, err := s.index(key)
	if err != nil {
		return nil, time.Time{}, err
	}
	if lockErr != nil {
		return bm, mtime, nil
	}

	payload, codec, err := bm.Encode(s.codec)
	if err == nil {
		err = s.putLoose(h, record{name: key, mtime: mtime.UnixNano(), codec: codec, payload: payload})
	}
	if err != nil {
		s.log.Warn("cannot persist bitmap", "path", key, "error", err)
	} else {
		s.log.Debug("bitmap rebuilt", "path", key, "bits", bm.Count(), "codec", codec.String(), "bytes", len(payload))
	}
	return bm, mtime, nil
}

// index builds the bitmap of the file at key.
func (s *Store) index(key string) (*bitmap.Bitmap, time.Time, error) {
	f, err := os.Open(key)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: cannot open %s: %w", ErrUnreadable, key, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: cannot stat %s: %w", ErrUnreadable, key, err)
	}
	if info.IsDir() {
		return nil, time.Time{}, fmt.Errorf("%w: %s is a directory", ErrUnreadable, key)
	}
	bm, err := bitmap.FromReader(s.params, f)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: cannot read %s: %w", ErrUnreadable, key, err)
	}
	return bm, info.ModTime(), nil
}

// Invalidate logically removes the entry for path. A tombstone is written
// so that a packed copy is shadowed until the next Pack.
func (s *Store) Invalidate(path string) error {
	key, err := Key(path)
	if err != nil {
		return err
	}
	h := hashKey(key)
	unlock, err := s.lockEntry(h)
	if err != nil {
		return err
	}
	defer unlock()

	rec, _, found, err := s.find(key)
	if err != nil {
		return err
	}
	if !found || rec.tombstone() {
		return nil
	}
	return s.putLoose(h, record{name: key, flags: flagTombstone})
}
