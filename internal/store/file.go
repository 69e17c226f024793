package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// FileStore keeps rules in a JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the rules file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Describe() string {
	return "file " + s.path
}

func (s *FileStore) Close() error {
	return nil
}

// Load reads and validates the rules file.
func (s *FileStore) Load(ctx context.Context) (*Rules, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a rules document. Comments and trailing commas are
// tolerated; the structure must match the rules schema.
func ParseRules(data []byte) (*Rules, error) {
	var doc any
	if err := json5.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	schema, err := rulesFileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile rules schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("rules file invalid: %w", err)
	}

	var rules Rules
	if err := json5.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return rules.normalized(), nil
}

// Save writes the rules atomically through a temporary file and rename.
func (s *FileStore) Save(ctx context.Context, rules *Rules) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(rules.normalized(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	payload = append(payload, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create rules directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write rules: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod rules: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close rules: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace rules file: %w", err)
	}
	return nil
}
