package storage

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/logging"
)

// FileStore keeps every key in one JSON object on disk (settings.json style).
// JSON arrays and objects are stored inline; other values are stored as JSON strings.
// Each write goes to a temp file that is renamed over the original.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens the store at path, creating parent directories. A file that is
// not valid JSON is moved aside to path+".broken" and the store starts empty.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Persistence("create settings directory", err)
	}

	raw, err := os.ReadFile(path)
	switch {
	case stderrors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, errors.Persistence("read settings file", err)
	case len(bytes.TrimSpace(raw)) > 0 && !json.Valid(raw):
		if err := os.Rename(path, path+".broken"); err != nil {
			return nil, errors.Persistence("move aside invalid settings file", err)
		}
		logging.Warn("moved invalid settings file aside", map[string]interface{}{
			"path": path,
		})
	}

	return &FileStore{path: path}, nil
}

// Path returns the settings file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) load() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(f.path)
	if stderrors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, errors.Persistence("read settings file", err)
	}
	data := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Persistence("decode settings file", err)
	}
	return data, nil
}

func (f *FileStore) save(data map[string]json.RawMessage) error {
	raw, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return errors.Persistence("encode settings file", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return errors.Persistence("create temp settings file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Persistence("write temp settings file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Persistence("sync temp settings file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Persistence("close temp settings file", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return errors.Persistence("replace settings file", err)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return nil, err
	}
	v, ok := data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeValue(v)
}

func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	v, err := encodeValue(value)
	if err != nil {
		return errors.Persistence(fmt.Sprintf("encode %s", key), err)
	}
	data[key] = v
	return f.save(data)
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return f.save(data)
}

func (f *FileStore) Close() error { return nil }

func encodeValue(value []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') && json.Valid(trimmed) {
		return json.RawMessage(trimmed), nil
	}
	return json.Marshal(string(value))
}

func decodeValue(v json.RawMessage) ([]byte, error) {
	if len(v) > 0 && v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, errors.Persistence("decode settings value", err)
		}
		return []byte(s), nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, v); err != nil {
		return nil, errors.Persistence("decode settings value", err)
	}
	return compact.Bytes(), nil
}
