// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// maxStderr bounds how much command output is kept in an error.
const maxStderr = 2048

// Runner executes name with args in dir and returns when it exits.
type Runner func(ctx context.Context, dir, name string, args []string) error

// ExecRunner runs the command as a subprocess.
//
// Description:
//
//	Captures stderr and attaches its tail to the returned error. A context
//	deadline is reported as context.DeadlineExceeded so callers can tell
//	timeouts from command failures.
//
// Thread Safety: Safe for concurrent use.
func ExecRunner(ctx context.Context, dir, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %s exited %d: %s", ErrBuildFailed, name, exitErr.ExitCode(), tail(stderr.String()))
	}
	return fmt.Errorf("%w: %s: %v", ErrBuildFailed, name, err)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return s
}
