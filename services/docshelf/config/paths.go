// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// AppDirName is the subdirectory of the platform data dir.
const AppDirName = "docshelf"

// ConfigFileName is the default config file inside the data dir.
const ConfigFileName = "config.yaml"

// ErrNoDataDir indicates the platform data directory cannot be determined.
var ErrNoDataDir = errors.New("local data directory unavailable")

// DataLocalDir returns the per-user local data directory for docshelf.
//
// Description:
//
//	linux/bsd: $XDG_DATA_HOME, else ~/.local/share
//	darwin:    ~/Library/Application Support
//	windows:   %LOCALAPPDATA%
//
// The directory is not created.
func DataLocalDir() (string, error) {
	base, err := platformDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppDirName), nil
}

func platformDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return dir, nil
		}
		return "", fmt.Errorf("%w: %%LOCALAPPDATA%% is not set", ErrNoDataDir)
	case "darwin", "ios":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNoDataDir, err)
		}
		return filepath.Join(home, "Library", "Application Support"), nil
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); filepath.IsAbs(dir) {
			return dir, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNoDataDir, err)
		}
		return filepath.Join(home, ".local", "share"), nil
	}
}
