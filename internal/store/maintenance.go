package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/kamusis/fourgrep/internal/bitmap"
)

// Clear removes every entry and re-stamps the root with the store's params.
func (s *Store) Clear() error {
	fl := flock.New(filepath.Join(s.root, metaLockFile))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("cannot lock cache root %s: %w", s.root, err)
	}
	defer fl.Unlock()

	dirs, err := s.shards()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("cannot remove shard %s: %w", dir, err)
		}
	}
	s.packMu.Lock()
	clear(s.packIndex)
	s.packMu.Unlock()

	if err := writeStamp(s.root, s.params); err != nil {
		return err
	}
	s.log.Info("cache cleared", "shards", len(dirs), "params", s.params.String())
	return nil
}

// Stats describes the on-disk content of a cache root.
type Stats struct {
	Shards     int
	Loose      int
	Tombstones int
	Packs      int
	Packed     int
	Bytes      int64
}

// Stats walks the root and counts entries. Unreadable entries are counted
// by size only.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	dirs, err := s.shards()
	if err != nil {
		return st, err
	}
	for _, dir := range dirs {
		st.Shards++
		loose, err := listLoose(dir)
		if err != nil {
			return st, fmt.Errorf("cannot list shard %s: %w", dir, err)
		}
		for _, lf := range loose {
			data, err := os.ReadFile(lf.path)
			if err != nil {
				continue
			}
			st.Bytes += int64(len(data))
			if r, err := parseRecord(data, s.maxPayload()); err == nil {
				st.Loose++
				if r.tombstone() {
					st.Tombstones++
				}
			}
		}

		packPath := filepath.Join(dir, packFile)
		f, err := os.Open(packPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return st, fmt.Errorf("cannot open pack %s: %w", packPath, err)
		}
		idx, err := readPackIndex(f)
		_ = f.Close()
		if err != nil {
			continue
		}
		st.Packs++
		st.Packed += len(idx.hashes)
		st.Bytes += idx.info.Size()
	}
	return st, nil
}

// VerifyReport is the outcome of Verify.
type VerifyReport struct {
	Entries  int
	Corrupt  int
	Stale    int
	Orphaned int
}

// Verify decodes every entry. Corrupt loose entries and corrupt packs are
// removed; stale and orphaned entries are counted and left for Pack or the
// next rebuild.
func (s *Store) Verify() (VerifyReport, error) {
	var rep VerifyReport
	dirs, err := s.shards()
	if err != nil {
		return rep, err
	}
	for _, dir := range dirs {
		loose, err := listLoose(dir)
		if err != nil {
			return rep, fmt.Errorf("cannot list shard %s: %w", dir, err)
		}
		for _, lf := range loose {
			data, err := os.ReadFile(lf.path)
			if err != nil || len(data) == 0 {
				continue
			}
			r, err := parseRecord(data, s.maxPayload())
			if err == nil {
				err = s.checkRecord(r, &rep)
			}
			if err != nil {
				s.log.Warn("removing corrupt cache entry", "entry", lf.path, "error", err)
				_ = os.Remove(lf.path)
				rep.Corrupt++
			}
		}

		packPath := filepath.Join(dir, packFile)
		recs, err := s.readPack(packPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.log.Warn("removing corrupt pack", "pack", packPath, "error", err)
			s.forgetPackIndex(packPath)
			_ = os.Remove(packPath)
			rep.Corrupt++
			continue
		}
		for _, r := range recs {
			if err := s.checkRecord(r, &rep); err != nil {
				rep.Corrupt++
			}
		}
	}
	return rep, nil
}

func (s *Store) checkRecord(r record, rep *VerifyReport) error {
	if r.tombstone() {
		rep.Entries++
		return nil
	}
	if _, err := bitmap.Decode(s.params, r.codec, r.payload); err != nil {
		return err
	}
	rep.Entries++
	info, err := os.Stat(r.name)
	switch {
	case err != nil:
		rep.Orphaned++
	case info.ModTime().UnixNano() != r.mtime:
		rep.Stale++
	}
	return nil
}
