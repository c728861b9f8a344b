// Package scratch keeps the raw body of the most recently selected post on
// disk so it can be attached to the operator channel.
package scratch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Slot is a single-file artifact per platform. Each Write replaces the
// previous content.
type Slot struct {
	path string
}

// NewSlot returns the slot <dir>/<platform>-lastpost.json.
func NewSlot(dir, platform string) (*Slot, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("scratch dir is required")
	}
	if strings.TrimSpace(platform) == "" || strings.ContainsAny(platform, `/\`) {
		return nil, fmt.Errorf("invalid platform name %q", platform)
	}
	return &Slot{path: filepath.Join(dir, platform+"-lastpost.json")}, nil
}

func (s *Slot) Path() string { return s.path }

// Name is the file name used when the artifact is uploaded.
func (s *Slot) Name() string { return filepath.Base(s.path) }

// Write stores payload indented. Payloads that are not valid JSON are
// stored verbatim so that unknown shapes can still be inspected.
func (s *Slot) Write(payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	data := payload
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err == nil {
		data = buf.Bytes()
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write scratch: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace scratch: %w", err)
	}
	return nil
}

// Open opens the artifact for reading. The caller closes it.
func (s *Slot) Open() (*os.File, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open scratch: %w", err)
	}
	return f, nil
}

// Remove deletes the artifact. A missing file is not an error.
func (s *Slot) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove scratch: %w", err)
	}
	return nil
}
