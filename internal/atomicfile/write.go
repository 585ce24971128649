// Package atomicfile writes config and state files so readers only ever
// see the old contents or the complete new ones.
package atomicfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrExists is returned by [Create] when path is already present.
var ErrExists = errors.New("file already exists")

// Write replaces path with data.
func Write(path string, data []byte, perm os.FileMode) error {
	return WriteFunc(path, perm, bytesFill(data))
}

// WriteFunc replaces path with whatever fill writes. If fill or any later
// step fails, path is left untouched.
func WriteFunc(path string, perm os.FileMode, fill func(io.Writer) error) error {
	tmp, err := stage(path, perm, fill)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(tmp), err)
	}
	return nil
}

// Create writes data to path only if path does not exist, returning
// [ErrExists] otherwise. Two racing callers cannot both succeed, and
// neither can leave a partial file at path.
func Create(path string, data []byte, perm os.FileMode) error {
	tmp, err := stage(path, perm, bytesFill(data))
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		return fmt.Errorf("link %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Backup copies path to path+".bak", replacing any earlier backup. A
// missing source is not an error.
func Backup(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	return Write(path+".bak", data, info.Mode().Perm())
}

func bytesFill(data []byte) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}
}

// stage writes a synced temp file next to path and returns its name. The
// caller owns the temp file on success; on failure it is already gone.
func stage(path string, perm os.FileMode, fill func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	fail := func(step string, err error) (string, error) {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("%s temp file: %w", step, err)
	}

	bw := bufio.NewWriter(f)
	if err := fill(bw); err != nil {
		return fail("write", err)
	}
	if err := bw.Flush(); err != nil {
		return fail("flush", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Chmod(perm); err != nil {
		return fail("chmod", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp, nil
}
