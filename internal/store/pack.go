package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
)

const (
	packFile    = "pack"
	packMagic   = "FGPK"
	packVersion = 1
	// magic, version, count
	packHeaderSize = 4 + 4 + 4
	// hash, offset
	packIndexEntrySize = 8 + 8
)

var (
	shardName = regexp.MustCompile(`^[0-9a-f]{2}$`)
	looseName = regexp.MustCompile(`^([0-9a-f]{16})_([0-9]{3})$`)
)

// packIndex is the in-memory copy of a pack's sorted hash index.
type packIndex struct {
	info    fs.FileInfo
	hashes  []uint64
	offsets []uint64
}

func readPackIndex(f *os.File) (*packIndex, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	var hdr [packHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, truncated(err)
	}
	if string(hdr[:4]) != packMagic {
		return nil, fmt.Errorf("%w: bad pack magic %q", ErrCorrupt, hdr[:4])
	}
	if v := binary.BigEndian.Uint32(hdr[4:]); v != packVersion {
		return nil, fmt.Errorf("%w: pack version %d", ErrCorrupt, v)
	}
	count := int64(binary.BigEndian.Uint32(hdr[8:]))
	indexEnd := packHeaderSize + count*packIndexEntrySize
	if indexEnd > info.Size() {
		return nil, fmt.Errorf("%w: pack index of %d entries exceeds file size", ErrCorrupt, count)
	}
	raw := make([]byte, count*packIndexEntrySize)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, truncated(err)
	}
	idx := &packIndex{info: info, hashes: make([]uint64, count), offsets: make([]uint64, count)}
	for i := range idx.hashes {
		e := raw[i*packIndexEntrySize:]
		idx.hashes[i] = binary.BigEndian.Uint64(e)
		idx.offsets[i] = binary.BigEndian.Uint64(e[8:])
		if idx.offsets[i] < uint64(indexEnd) || idx.offsets[i] >= uint64(info.Size()) {
			return nil, fmt.Errorf("%w: pack offset %d out of range", ErrCorrupt, idx.offsets[i])
		}
		if i > 0 && idx.hashes[i] < idx.hashes[i-1] {
			return nil, fmt.Errorf("%w: pack index not sorted", ErrCorrupt)
		}
	}
	return idx, nil
}

// cachedPackIndex returns the index of the open pack f, reusing the copy
// loaded earlier unless the pack has been replaced since.
func (s *Store) cachedPackIndex(path string, f *os.File) (*packIndex, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	s.packMu.Lock()
	idx := s.packIndex[path]
	s.packMu.Unlock()
	if idx != nil && os.SameFile(idx.info, info) && idx.info.Size() == info.Size() {
		return idx, nil
	}
	idx, err = readPackIndex(f)
	if err != nil {
		return nil, err
	}
	s.packMu.Lock()
	s.packIndex[path] = idx
	s.packMu.Unlock()
	return idx, nil
}

func (s *Store) forgetPackIndex(path string) {
	s.packMu.Lock()
	delete(s.packIndex, path)
	s.packMu.Unlock()
}

// findPacked looks key up in the shard's pack. A corrupt pack is removed.
func (s *Store) findPacked(dir string, h uint64, key string) (record, bool, error) {
	path := filepath.Join(dir, packFile)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, fmt.Errorf("cannot open pack %s: %w", path, err)
	}
	defer f.Close()

	rec, found, err := s.searchPack(path, f, h, key)
	if errors.Is(err, ErrCorrupt) {
		s.log.Warn("removing corrupt pack", "pack", path, "error", err)
		s.forgetPackIndex(path)
		_ = os.Remove(path)
		return record{}, false, nil
	}
	return rec, found, err
}

func (s *Store) searchPack(path string, f *os.File, h uint64, key string) (record, bool, error) {
	idx, err := s.cachedPackIndex(path, f)
	if err != nil {
		return record{}, false, err
	}
	size := idx.info.Size()
	for i := sort.Search(len(idx.hashes), func(i int) bool { return idx.hashes[i] >= h }); i < len(idx.hashes) && idx.hashes[i] == h; i++ {
		off := int64(idx.offsets[i])
		rec, err := readRecord(io.NewSectionReader(f, off, size-off), s.maxPayload())
		if err != nil {
			return record{}, false, err
		}
		if rec.name == key {
			return rec, true, nil
		}
	}
	return record{}, false, nil
}

// readPack returns every record of a pack, in index order.
func (s *Store) readPack(path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	idx, err := readPackIndex(f)
	if err != nil {
		return nil, err
	}
	size := idx.info.Size()
	recs := make([]record, 0, len(idx.offsets))
	for _, off := range idx.offsets {
		rec, err := readRecord(io.NewSectionReader(f, int64(off), size-int64(off)), s.maxPayload())
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// encodePack lays records out as header, sorted index and record bodies.
func encodePack(recs []record) []byte {
	slices.SortFunc(recs, func(a, b record) int {
		ha, hb := hashKey(a.name), hashKey(b.name)
		switch {
		case ha < hb:
			return -1
		case ha > hb:
			return 1
		}
		return strings.Compare(a.name, b.name)
	})

	off := uint64(packHeaderSize + len(recs)*packIndexEntrySize)
	total := int(off)
	for _, r := range recs {
		total += r.size()
	}
	buf := make([]byte, 0, total)
	buf = append(buf, packMagic...)
	buf = binary.BigEndian.AppendUint32(buf, packVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(recs)))
	for _, r := range recs {
		buf = binary.BigEndian.AppendUint64(buf, hashKey(r.name))
		buf = binary.BigEndian.AppendUint64(buf, off)
		off += uint64(r.size())
	}
	for _, r := range recs {
		buf = append(buf, r.marshal()...)
	}
	return buf
}

// PackStats summarises one Pack run.
type PackStats struct {
	Shards  int
	Packed  int
	Dropped int
	Merged  int
}

// looseFile is a loose entry read during packing.
type looseFile struct {
	path string
	hash uint64
	data []byte
}

// listLoose returns the loose entries of a shard sorted by name, so that a
// lower collision slot comes first.
func listLoose(dir string) ([]looseFile, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []looseFile
	for _, e := range ents {
		m := looseName.FindStringSubmatch(e.Name())
		if m == nil || !e.Type().IsRegular() {
			continue
		}
		h, err := strconv.ParseUint(m[1], 16, 64)
		if err != nil {
			continue
		}
		out = append(out, looseFile{path: filepath.Join(dir, e.Name()), hash: h})
	}
	slices.SortFunc(out, func(a, b looseFile) int {
		return strings.Compare(filepath.Base(a.path), filepath.Base(b.path))
	})
	return out, nil
}

func (s *Store) shards() ([]string, error) {
	ents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("cannot list cache root %s: %w", s.root, err)
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() && shardName.MatchString(e.Name()) {
			out = append(out, filepath.Join(s.root, e.Name()))
		}
	}
	return out, nil
}

// Pack consolidates the loose entries of every shard into the shard's pack
// file. Loose entries override packed ones; tombstones and entries whose
// file no longer exists are dropped.
func (s *Store) Pack() (PackStats, error) {
	var st PackStats
	dirs, err := s.shards()
	if err != nil {
		return st, err
	}
	for _, dir := range dirs {
		packed, dropped, merged, err := s.packShard(dir)
		if err != nil {
			return st, err
		}
		st.Shards++
		st.Packed += packed
		st.Dropped += dropped
		st.Merged += merged
	}
	s.log.Info("cache packed", "shards", st.Shards, "packed", st.Packed, "dropped", st.Dropped, "merged", st.Merged)
	return st, nil
}

func (s *Store) packShard(dir string) (packed, dropped, merged int, err error) {
	fl, err := lockShard(dir)
	if err != nil {
		return 0, 0, 0, err
	}
	defer fl.Unlock()

	packPath := filepath.Join(dir, packFile)
	live := make(map[string]record)
	old, err := s.readPack(packPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case errors.Is(err, ErrCorrupt):
		s.log.Warn("discarding corrupt pack", "pack", packPath, "error", err)
	case err != nil:
		return 0, 0, 0, fmt.Errorf("cannot read pack %s: %w", packPath, err)
	}
	for _, r := range old {
		live[r.name] = r
	}

	loose, err := listLoose(dir)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("cannot list shard %s: %w", dir, err)
	}
	seen := make(map[string]bool)
	var consumed []looseFile
	for _, lf := range loose {
		data, err := os.ReadFile(lf.path)
		if err != nil || len(data) == 0 {
			continue
		}
		r, err := parseRecord(data, s.maxPayload())
		if err != nil {
			s.log.Warn("removing corrupt cache entry", "entry", lf.path, "error", err)
			_ = os.Remove(lf.path)
			continue
		}
		lf.data = data
		consumed = append(consumed, lf)
		if seen[r.name] {
			continue
		}
		seen[r.name] = true
		live[r.name] = r
		merged++
	}

	recs := make([]record, 0, len(live))
	for name, r := range live {
		if r.tombstone() {
			dropped++
			continue
		}
		if _, err := os.Stat(name); err != nil {
			dropped++
			continue
		}
		recs = append(recs, r)
	}

	if len(recs) == 0 {
		if err := os.Remove(packPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, 0, 0, fmt.Errorf("cannot remove pack %s: %w", packPath, err)
		}
	} else if err := writeFileAtomic(packPath, encodePack(recs)); err != nil {
		return 0, 0, 0, err
	}
	s.forgetPackIndex(packPath)

	for _, lf := range consumed {
		s.removeIfUnchanged(lf)
	}
	return len(recs), dropped, merged, nil
}

// removeIfUnchanged deletes a packed loose entry unless it was rewritten
// after being read.
func (s *Store) removeIfUnchanged(lf looseFile) {
	unlock, err := s.lockEntry(lf.hash)
	if err != nil {
		s.log.Warn("leaving packed entry in place", "entry", lf.path, "error", err)
		return
	}
	defer unlock()
	cur, err := os.ReadFile(lf.path)
	if err != nil || !bytes.Equal(cur, lf.data) {
		return
	}
	_ = os.Remove(lf.path)
}
