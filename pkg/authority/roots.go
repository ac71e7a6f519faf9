// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package authority enforces the filesystem allow-list. A Roots policy
// canonicalizes candidate paths — symlinks resolved, dot segments
// collapsed — before testing containment, so neither ".." traversal nor
// a symlink planted inside a root can reach outside it. Server exposes
// the policy and the save_file tool over HTTP.
package authority

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Roots is the immutable allow-list policy. All roots are canonical
// absolute paths, created at construction if missing.
type Roots struct {
	roots  []string
	logger *zap.Logger
}

// NewRoots builds the policy from a non-empty root list. Each root is
// created if absent and canonicalized.
func NewRoots(paths []string, logger *zap.Logger) (*Roots, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var roots []string
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("authority: create root %q: %w", p, err)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("authority: resolve root %q: %w", p, err)
		}
		canonical, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("authority: resolve root %q: %w", p, err)
		}
		roots = append(roots, canonical)
	}
	if len(roots) == 0 {
		return nil, errors.New("authority: at least one allowed root is required")
	}
	logger.Info("roots policy initialized", zap.Strings("allowed_roots", roots))
	return &Roots{roots: roots, logger: logger}, nil
}

// List returns the canonical allowed roots.
func (r *Roots) List() []string {
	return append([]string(nil), r.roots...)
}

// Allowed reports whether the path, fully resolved, falls under one of
// the allowed roots, and returns the resolved path. Any resolution
// failure is a denial.
func (r *Roots) Allowed(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	resolved, err := resolve(path)
	if err != nil {
		r.logger.Debug("path resolution failed", zap.String("path", path), zap.Error(err))
		return "", false
	}
	for _, root := range r.roots {
		if resolved == root || strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
			return resolved, true
		}
	}
	return resolved, false
}

// resolve canonicalizes a path that may not exist yet: symlinks are
// evaluated on the deepest existing ancestor and the non-existing
// remainder is re-joined. A symlink anywhere in the existing portion is
// therefore followed before containment is checked.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	existing := abs
	var suffix string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		suffix = filepath.Join(filepath.Base(existing), suffix)
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, suffix), nil
}
