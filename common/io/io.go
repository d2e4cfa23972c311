package io

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
)

func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// MkDirIfNotExists creates dir and its parents. An existing regular file at
// dir is an error.
func MkDirIfNotExists(dir string) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// FixPrefixPath joins a relative suffix onto the data directory root.
func FixPrefixPath(root string, suffix string) string {
	if root == "" || filepath.IsAbs(suffix) {
		return suffix
	}
	return filepath.Join(root, suffix)
}

// WriteFileAtomic writes data next to filename and renames it into place, so
// readers see either the old content or the new one. Missing parent
// directories are created.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := MkDirIfNotExists(dir); err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(dir, "."+filepath.Base(filename)+".tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, filename)
}
