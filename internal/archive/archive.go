// Package archive packages the seed directory as a gzipped tarball for
// transfer to the instance. Entries are stored with paths relative to the
// directory root so a remote "tar -C /" overlays the tree onto the
// instance filesystem.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// PackDir writes dir as a tar.gz stream to w.
func PackDir(dir string, w io.Writer) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat seed directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("seed path %s is not a directory", dir)
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		// Symlinks inside a seed tree would dereference against the
		// local filesystem; refuse rather than package the wrong file.
		if fi.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("seed directory contains symlink %s, refusing to package it", path)
		}

		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if fi.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to package seed directory %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize seed archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize seed archive: %w", err)
	}
	return nil
}
