package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/kamusis/fourgrep/internal/gram"
)

const (
	metaFile     = "meta.yaml"
	metaLockFile = ".meta.lock"

	// FormatVersion changes whenever the on-disk record or pack layout does.
	FormatVersion = 1
)

// Stamp records the parameters a cache root was built with.
type Stamp struct {
	Format      int `yaml:"format"`
	gram.Params `yaml:",inline"`
	CreatedAt   string `yaml:"created_at"`
}

// ReadStamp loads <root>/meta.yaml. The error wraps fs.ErrNotExist when the
// root has never been stamped.
func ReadStamp(root string) (*Stamp, error) {
	path := filepath.Join(root, metaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read cache stamp %s: %w", path, err)
	}
	var st Stamp
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML in %s: %v", ErrCorrupt, path, err)
	}
	return &st, nil
}

func writeStamp(root string, p gram.Params) error {
	st := Stamp{Format: FormatVersion, Params: p, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	data, err := yaml.Marshal(&st)
	if err != nil {
		return fmt.Errorf("cannot marshal cache stamp: %w", err)
	}
	return writeFileAtomic(filepath.Join(root, metaFile), data)
}

// checkStamp stamps a fresh root or verifies an existing one.
func (s *Store) checkStamp() error {
	fl := flock.New(filepath.Join(s.root, metaLockFile))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("cannot lock cache root %s: %w", s.root, err)
	}
	defer fl.Unlock()

	st, err := ReadStamp(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("stamping new cache root", "root", s.root, "params", s.params.String())
		return writeStamp(s.root, s.params)
	}
	if err != nil {
		return err
	}
	if st.Format != FormatVersion || st.Params != s.params {
		return fmt.Errorf("%w: %s holds format %d with %s, this run uses format %d with %s (run `fourgrep cache clear`)",
			ErrConfigMismatch, s.root, st.Format, st.Params, FormatVersion, s.params)
	}
	return nil
}

// writeFileAtomic writes data to a temp file beside path and renames it into
// place, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("cannot create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot move %s into place: %w", path, err)
	}
	return nil
}
