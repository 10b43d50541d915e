// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// DirName is the artifact subdirectory inside the data directory.
const DirName = "artifacts"

const fileSuffix = ".json.zst"

// ErrInvalidPath indicates a record locator escapes the store directory.
var ErrInvalidPath = errors.New("artifact path outside store")

// Store keeps zstd-compressed rustdoc JSON files in one directory.
//
// Thread Safety: Safe for concurrent use; every call works on its own file.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. The directory is created on
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Write compresses r into a new artifact named after buildID.
//
// Description:
//
//	The data is written to a temporary file and renamed into place, so a
//	crashed build never leaves a truncated artifact under its final name.
//
// Outputs:
//
//	string - Locator relative to the store directory, for Record.Path.
//	int64 - Compressed size in bytes.
//	error - Non-nil if the file cannot be written.
func (s *Store) Write(buildID string, r io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return "", 0, fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, buildID+"-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		tmp.Close()
		return "", 0, fmt.Errorf("compress artifact: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("flush zstd writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("sync artifact: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("stat artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close artifact: %w", err)
	}

	name := buildID + fileSuffix
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", 0, fmt.Errorf("rename artifact: %w", err)
	}
	return name, info.Size(), nil
}

// Open returns a decompressing reader for the artifact at path.
// The caller must Close it.
func (s *Store) Open(path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	return &decompressedFile{Decoder: dec, file: f}, nil
}

func (s *Store) resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	if path == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(s.dir, clean), nil
}

type decompressedFile struct {
	*zstd.Decoder
	file *os.File
}

func (d *decompressedFile) Close() error {
	d.Decoder.Close()
	return d.file.Close()
}
