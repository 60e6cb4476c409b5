/*
Copyright 2024 The Dapr Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package atomicfile writes a single file such that a reader never observes
// a partially-written result: the new content is written to a temp file in
// the target's own directory, then renamed into place.
//
// Collapsed from dapr/kit/concurrency/dir's directory-of-versioned-files
// scheme to a single-file scheme, since a keystore container is one file,
// not a directory tree.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spiffe/go-workloadapi/internal/log"
)

// File atomically (best-effort on Windows) writes a single target file.
type File struct {
	log    log.Logger
	target string
	dir    string
	base   string
}

// New creates a File writer for target. log may be nil, in which case
// writes are silent.
func New(target string, logger log.Logger) *File {
	if logger == nil {
		logger = log.Nop()
	}
	return &File{
		log:    logger,
		target: target,
		dir:    filepath.Dir(target),
		base:   filepath.Base(target),
	}
}

// Write replaces the target file's contents with data. The write is atomic
// from a reader's perspective: the target either has its old contents or its
// new contents, never a partial write.
func (f *File) Write(data []byte) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("unable to create directory %s: %w", f.dir, err)
	}

	tmp := filepath.Join(f.dir, fmt.Sprintf(".%s.%d.tmp", f.base, time.Now().UTC().UnixNano()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("unable to write temp file %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, f.target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("unable to rename temp file into place at %s: %w", f.target, err)
	}

	f.log.Infof("atomically wrote %s", f.target)
	return nil
}
