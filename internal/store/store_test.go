package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kamusis/fourgrep/internal/bitmap"
	"github.com/kamusis/fourgrep/internal/gram"
)

func testParams() gram.Params { return gram.Params{Chars: 3, CharBits: 4} }

func openTest(t *testing.T, codec bitmap.Codec) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache"), testParams(), Options{Codec: codec})
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func looseFiles(t *testing.T, s *Store) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(s.Root(), "??", "*_[0-9][0-9][0-9]"))
	require.NoError(t, err)
	return matches
}

func TestOpenStampsRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	_, err := Open(root, testParams(), Options{})
	require.NoError(t, err)

	st, err := ReadStamp(root)
	require.NoError(t, err)
	assert.Equal(t, testParams(), st.Params)
	assert.Equal(t, FormatVersion, st.Format)

	// same params reopen cleanly
	_, err = Open(root, testParams(), Options{})
	require.NoError(t, err)

	other := gram.Params{Chars: 4, CharBits: 4}
	_, err = Open(root, other, Options{})
	assert.ErrorIs(t, err, ErrConfigMismatch)

	_, err = Recreate(root, other, Options{})
	require.NoError(t, err)
	_, err = Open(root, other, Options{})
	assert.NoError(t, err)
}

func TestOpenRejectsInvalidParams(t *testing.T) {
	_, err := Open(t.TempDir(), gram.Params{Chars: 0, CharBits: 4}, Options{})
	assert.ErrorIs(t, err, gram.ErrInvalidParams)
}

func TestLookupRebuildCycle(t *testing.T) {
	s := openTest(t, bitmap.CodecZstd)
	path := writeFile(t, t.TempDir(), "a.txt", "hello world")

	res, err := s.Lookup(path)
	require.NoError(t, err)
	assert.Equal(t, Missing, res.State)

	built, mtime, err := s.Rebuild(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, mtime.Equal(info.ModTime()))

	res, err = s.Lookup(path)
	require.NoError(t, err)
	require.Equal(t, Hit, res.State)
	assert.True(t, built.Equal(res.Bitmap))
	assert.True(t, res.Bitmap.Test(testParams().EncodeString("wor")))

	old := time.Unix(100, 0)
	require.NoError(t, os.Chtimes(path, old, old))
	res, err = s.Lookup(path)
	require.NoError(t, err)
	assert.Equal(t, Stale, res.State)
	assert.Nil(t, res.Bitmap)

	_, _, err = s.Rebuild(path)
	require.NoError(t, err)
	res, err = s.Lookup(path)
	require.NoError(t, err)
	assert.Equal(t, Hit, res.State)
	assert.Len(t, looseFiles(t, s), 1, "rebuild overwrites the existing slot")
}

func TestLookupGone(t *testing.T) {
	s := openTest(t, bitmap.CodecNone)
	res, err := s.Lookup(filepath.Join(t.TempDir(), "nope.txt"))
	require.NoError(t, err)
	assert.Equal(t, Gone, res.State)

	res, err = s.Lookup(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Gone, res.State, "directories are not cacheable")
}

func TestRebuildFollowsSymlinks(t *testing.T) {
	s := openTest(t, bitmap.CodecNone)
	dir := t.TempDir()
	target := writeFile(t, dir, "target.txt", "linked content")
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, _, err := s.Rebuild(link)
	require.NoError(t, err)
	res, err := s.Lookup(target)
	require.NoError(t, err)
	assert.Equal(t, Hit, res.State)
}

func TestInvalidate(t *testing.T) {
	s := openTest(t, bitmap.CodecLZ4)
	path := writeFile(t, t.TempDir(), "a.txt", "some text here")

	require.NoError(t, s.Invalidate(path), "invalidating an uncached path is a no-op")
	assert.Empty(t, looseFiles(t, s))

	_, _, err := s.Rebuild(path)
	require.NoError(t, err)
	require.NoError(t, s.Invalidate(path))

	res, err := s.Lookup(path)
	require.NoError(t, err)
	assert.Equal(t, Missing, res.State)

	_, _, err = s.Rebuild(path)
	require.NoError(t, err)
	res, err = s.Lookup(path)
	require.NoError(t, err)
	assert.Equal(t, Hit, res.State)
}

func TestInvalidateDeletedFile(t *testing.T) {
	s := openTest(t, bitmap.CodecZstd)
	path := writeFile(t, t.TempDir(), "a.txt", "old words")
	mtime := time.Unix(1_000_000, 0)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	_, _, err := s.Rebuild(path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	require.NoError(t, s.Invalidate(path))

	writeFile(t, filepath.Dir(path), "a.txt", "new words")
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	res, err := s.Lookup(path)
	require.NoError(t, err)
	assert.Equal(t, Missing, res.State, "a restored file must not see the old bitmap")
}

func TestRebuildWithoutUsableShard(t *testing.T) {
	s := openTest(t, bitmap.CodecNone)
	path := writeFile(t, t.TempDir(), "a.txt", "indexed anyway")
	key, err := Key(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.shardDir(hashKey(key)), nil, 0o644))

	bm, _, err := s.Rebuild(path)
	require.NoError(t, err)
	assert.True(t, bm.Test(testParams().EncodeString("any")))
	assert.Empty(t, looseFiles(t, s))
}

func TestRebuildUnreadableSource(t *testing.T) {
	s := openTest(t, bitmap.CodecNone)
	_, _, err := s.Rebuild(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, ErrUnreadable)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, _, err = s.Rebuild(t.TempDir())
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestCodecs(t *testing.T) {
	for _, c := range []bitmap.Codec{bitmap.CodecNone, bitmap.CodecZstd, bitmap.CodecLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			s := openTest(t, c)
			path := writeFile(t, t.TempDir(), "a.txt", "the quick brown fox")
			built, _, err := s.Rebuild(path)
			require.NoError(t, err)

			res, err := s.Lookup(path)
			require.NoError(t, err)
			require.Equal(t, Hit, res.State)
			assert.True(t, built.Equal(res.Bitmap))
		})
	}
}

func TestCorruptLooseEntryIsRemoved(t *testing.T) {
	s := openTest(t, bitmap.CodecZstd)
	path := writeFile(t, t.TempDir(), "a.txt", "hello world")
	_, _, err := s.Rebuild(path)
	require.NoError(t, err)

	entries := looseFiles(t, s)
	require.Len(t, entries, 1)
	require.NoError(t, os.WriteFile(entries[0], []byte("garbage that is not a record"), 0o644))

	res, err := s.Lookup(path)
	require.NoError(t, err)
	assert.Equal(t, Missing, res.State)
	assert.NoFileExists(t, entries[0])
}

func TestEmptyLooseEntryIsSkipped(t *testing.T) {
	s := openTest(t, bitmap.CodecZstd)
	path := writeFile(t, t.TempDir(), "a.txt", "hello world")
	key, err := Key(path)
	require.NoError(t, err)
	h := hashKey(key)

	dir := s.shardDir(h)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	slot0 := loosePath(dir, h, 0)
	require.NoError(t, os.WriteFile(slot0, nil, 0o644))

	_, _, err = s.Rebuild(path)
	require.NoError(t, err)
	assert.FileExists(t, loosePath(dir, h, 1))

	res, err := s.Lookup(path)
	require.NoError(t, err)
	assert.Equal(t, Hit, res.State)
	assert.FileExists(t, slot0, "empty entries are left for their writer")
}

func TestParseRecordRejectsBadSizes(t *testing.T) {
	rec := record{name: "/x", mtime: 42, codec: bitmap.CodecNone, payload: []byte{1, 2, 3}}
	data := rec.marshal()

	got, err := parseRecord(data, 16)
	require.NoError(t, err)
	assert.Equal(t, rec.name, got.name)
	assert.Equal(t, rec.mtime, got.mtime)

	_, err = parseRecord(data[:len(data)-1], 16)
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = parseRecord(append(data, 0), 16)
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = parseRecord(data, 2)
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = parseRecord(data[:3], 16)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestPack(t *testing.T) {
	s := openTest(t, bitmap.CodecZstd)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha content")
	b := writeFile(t, dir, "b.txt", "bravo content")
	c := writeFile(t, dir, "c.txt", "charlie content")
	for _, p := range []string{a, b, c} {
		_, _, err := s.Rebuild(p)
		require.NoError(t, err)
	}
	require.NoError(t, os.Remove(c))
	require.NoError(t, s.Invalidate(b))

	st, err := s.Pack()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Packed)
	assert.Equal(t, 2, st.Dropped)
	assert.Empty(t, looseFiles(t, s))

	res, err := s.Lookup(a)
	require.NoError(t, err)
	assert.Equal(t, Hit, res.State, "served from the pack")
	res, err = s.Lookup(b)
	require.NoError(t, err)
	assert.Equal(t, Missing, res.State)

	// a loose rebuild shadows the packed entry
	old := time.Unix(100, 0)
	require.NoError(t, os.Chtimes(a, old, old))
	res, err = s.Lookup(a)
	require.NoError(t, err)
	assert.Equal(t, Stale, res.State)

	_, _, err = s.Rebuild(a)
	require.NoError(t, err)
	res, err = s.Lookup(a)
	require.NoError(t, err)
	assert.Equal(t, Hit, res.State)

	st, err = s.Pack()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Packed)
	res, err = s.Lookup(a)
	require.NoError(t, err)
	assert.Equal(t, Hit, res.State)
	assert.True(t, res.ModTime.Equal(old))

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Packed)
	assert.Equal(t, 1, stats.Packs)
	assert.Zero(t, stats.Loose)
}

func TestCorruptPackIsRemoved(t *testing.T) {
	s := openTest(t, bitmap.CodecZstd)
	a := writeFile(t, t.TempDir(), "a.txt", "alpha content")
	_, _, err := s.Rebuild(a)
	require.NoError(t, err)
	_, err = s.Pack()
	require.NoError(t, err)

	packs, err := filepath.Glob(filepath.Join(s.Root(), "??", packFile))
	require.NoError(t, err)
	require.Len(t, packs, 1)
	require.NoError(t, os.WriteFile(packs[0], []byte("FGPK not really"), 0o644))

	res, err := s.Lookup(a)
	require.NoError(t, err)
	assert.Equal(t, Missing, res.State)
	assert.NoFileExists(t, packs[0])
}

func TestStatsAndVerify(t *testing.T) {
	s := openTest(t, bitmap.CodecZstd)
	dir := t.TempDir()
	fresh := writeFile(t, dir, "fresh.txt", "fresh content")
	stale := writeFile(t, dir, "stale.txt", "stale content")
	gone := writeFile(t, dir, "gone.txt", "gone content")
	for _, p := range []string{fresh, stale, gone} {
		_, _, err := s.Rebuild(p)
		require.NoError(t, err)
	}
	require.NoError(t, s.Invalidate(fresh))
	_, _, err := s.Rebuild(fresh)
	require.NoError(t, err)

	old := time.Unix(100, 0)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Remove(gone))

	shard := filepath.Join(s.Root(), "00")
	require.NoError(t, os.MkdirAll(shard, 0o755))
	bogus := filepath.Join(shard, "00000000000000aa_000")
	require.NoError(t, os.WriteFile(bogus, []byte("not a record"), 0o644))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Loose)
	assert.Zero(t, st.Tombstones)
	assert.Positive(t, st.Bytes)

	rep, err := s.Verify()
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Entries)
	assert.Equal(t, 1, rep.Stale)
	assert.Equal(t, 1, rep.Orphaned)
	assert.Equal(t, 1, rep.Corrupt)
	assert.NoFileExists(t, bogus)
}

func TestClear(t *testing.T) {
	s := openTest(t, bitmap.CodecZstd)
	a := writeFile(t, t.TempDir(), "a.txt", "alpha content")
	_, _, err := s.Rebuild(a)
	require.NoError(t, err)

	require.NoError(t, s.Clear())
	assert.Empty(t, looseFiles(t, s))
	res, err := s.Lookup(a)
	require.NoError(t, err)
	assert.Equal(t, Missing, res.State)

	_, err = ReadStamp(s.Root())
	assert.NoError(t, err)
}

func TestConcurrentRebuildSamePath(t *testing.T) {
	s := openTest(t, bitmap.CodecZstd)
	path := writeFile(t, t.TempDir(), "a.txt", "contended content")

	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			_, _, err := s.Rebuild(path)
			return err
		})
	}
	require.NoError(t, g.Wait())

	res, err := s.Lookup(path)
	require.NoError(t, err)
	assert.Equal(t, Hit, res.State)
	assert.Len(t, looseFiles(t, s), 1)
}
