// Package staging copies shared-library artifacts to uniquely named files
// before they are opened.
//
// Dynamic linkers cache mapped images by path or file identity, so opening
// a rebuilt artifact at the same path can silently return the old code.
// Every load therefore opens a copy whose path has never been mapped.
package staging

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zeebo/blake3"
)

// maxCollisions bounds how many timestamps Stage tries when a name is taken.
const maxCollisions = 1024

// Copy is a staged copy of an artifact.
type Copy struct {
	Source string // Path the copy was made from
	Path   string // Path of the staged copy
	Digest string // BLAKE3-256 of the copied bytes, hex encoded
}

// Remove deletes the staged file. A file that is already gone is not an error.
func (c *Copy) Remove() error {
	if c == nil || c.Path == "" {
		return nil
	}
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staged copy: %w", err)
	}
	return nil
}

// Stager produces staged copies in Dir.
type Stager struct {
	Dir string // Defaults to os.TempDir()

	now func() time.Time
	pid int
}

// NewStager returns a Stager writing into dir, or the platform temporary
// directory when dir is empty.
func NewStager(dir string) *Stager {
	return &Stager{Dir: dir}
}

// Name returns the staged file name for src at the given instant:
// {file name}_{pid}_{nanoseconds since epoch}.
func Name(src string, pid int, at time.Time) string {
	return filepath.Base(src) + "_" + strconv.Itoa(pid) + "_" + strconv.FormatInt(at.UnixNano(), 10)
}

// Stage copies src to a fresh file and returns it. Nothing is left on disk
// when an error is returned.
func (s *Stager) Stage(src string) (*Copy, error) {
	if filepath.Base(src) == "." || filepath.Base(src) == string(filepath.Separator) {
		return nil, &fs.PathError{Op: "stage", Path: src, Err: fs.ErrInvalid}
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", src, err)
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "stage", Path: src, Err: errors.New("is a directory")}
	}

	out, path, err := s.create(src, info.Mode().Perm()|0o500)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", src, err)
	}

	h := blake3.New()
	_, copyErr := io.Copy(io.MultiWriter(out, h), in)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("stage %s: %w", src, err)
	}

	return &Copy{
		Source: src,
		Path:   path,
		Digest: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// create opens a new file with a name no earlier Stage call has used.
func (s *Stager) create(src string, perm fs.FileMode) (*os.File, string, error) {
	dir := s.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	pid := s.pid
	if pid == 0 {
		pid = os.Getpid()
	}

	at := now()
	for range maxCollisions {
		path := filepath.Join(dir, Name(src, pid, at))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
		at = at.Add(time.Nanosecond)
	}
	return nil, "", fmt.Errorf("no free staging name for %s in %s", filepath.Base(src), dir)
}
