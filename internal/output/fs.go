// Package output persists crawl results to the configured sinks.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbcrawl/kbcrawl/internal/kb"
	"github.com/kbcrawl/kbcrawl/internal/rag"
)

// FSConfig captures the parameters for the filesystem writer.
type FSConfig struct {
	// BaseDir is the root directory where exports are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// FSWriter writes crawl exports to the local filesystem.
type FSWriter struct {
	baseDir string
}

// NewFSWriter creates a filesystem-backed writer, creating the base
// directory if needed and verifying it is writable.
func NewFSWriter(cfg FSConfig) (*FSWriter, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}

	return &FSWriter{baseDir: cfg.BaseDir}, nil
}

// WriteDocuments writes the flattened documents as one JSON line each.
func (w *FSWriter) WriteDocuments(_ context.Context, name string, docs []rag.Document) (string, error) {
	fullPath, err := w.resolve(name)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("open export file: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("encode document %s: %w", doc.ID, err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return "file://" + fullPath, nil
}

// WriteRecords writes the raw record trees as one indented JSON file.
func (w *FSWriter) WriteRecords(_ context.Context, name string, records []*kb.Record) (string, error) {
	fullPath, err := w.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write records file: %w", err)
	}
	return "file://" + fullPath, nil
}

// resolve joins name onto the base directory and rejects path traversal.
func (w *FSWriter) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("file name is required")
	}
	fullPath := filepath.Join(w.baseDir, name)
	cleanBase := filepath.Clean(w.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	return fullPath, nil
}
