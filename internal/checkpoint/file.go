package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/valpere/tabletran/internal/unit"
)

// FileStore keeps one JSON file per checkpoint at
// <root>/<unit_id>/<stage>_<lang>.json, the layout earlier runs produced.
// Failures are appended to <root>/<unit_id>/failed_<lang>.json.
type FileStore struct {
	root string

	mu sync.Mutex // serialises failure-file rewrites
}

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrStorage, root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Root() string { return s.root }

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.root, safeName(key.UnitID), key.Stage.Name()+"_"+key.Lang+".json")
}

func (s *FileStore) Has(ctx context.Context, key Key) (bool, error) {
	_, err := os.Stat(s.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, storageErr("stat", key, err)
}

func (s *FileStore) Get(ctx context.Context, key Key) (*unit.Unit, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("read", key, err)
	}
	u, err := parseStored(key.UnitID, data)
	if err != nil {
		return nil, storageErr("decode", key, err)
	}
	return u, nil
}

func (s *FileStore) Put(ctx context.Context, key Key, u *unit.Unit) error {
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return storageErr("encode", key, err)
	}
	if err := WriteFileAtomic(s.path(key), data); err != nil {
		return storageErr("write", key, err)
	}
	return nil
}

type failureRecord struct {
	Stage  string    `json:"stage"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

func (s *FileStore) failurePath(unitID, lang string) string {
	return filepath.Join(s.root, safeName(unitID), "failed_"+lang+".json")
}

func (s *FileStore) RecordFailure(ctx context.Context, key Key, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.failurePath(key.UnitID, key.Lang)
	var records []failureRecord
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &records); err != nil {
			return storageErr("decode failure history", key, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return storageErr("read failure history", key, err)
	}
	records = append(records, failureRecord{Stage: key.Stage.Name(), Reason: reason, At: time.Now().UTC()})

	data, err = json.MarshalIndent(records, "", "  ")
	if err != nil {
		return storageErr("encode failure", key, err)
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return storageErr("write failure", key, err)
	}
	return nil
}

func (s *FileStore) HasFailure(ctx context.Context, unitID, lang string) (bool, error) {
	_, err := os.Stat(s.failurePath(unitID, lang))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, fmt.Errorf("%w: stat failure %s/%s: %v", ErrStorage, unitID, lang, err)
}

// parseStored accepts both the full unit encoding and the bare payload
// ({"columns","data"} or {"question","answer"}) written by older runs.
func parseStored(id string, data []byte) (*unit.Unit, error) {
	var u unit.Unit
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	if u.Kind == "" {
		if u.Question != "" {
			u.Kind = unit.KindQA
		} else {
			u.Kind = unit.KindTable
		}
	}
	if u.ID == "" {
		u.ID = id
	}
	return &u, nil
}

// safeName keeps unit ids from escaping the checkpoint root.
func safeName(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, string(filepath.Separator), "_")
	if id == "" || id == "." || id == ".." {
		return "_"
	}
	return id
}

// WriteFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(name)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(name, 0o644); err != nil {
		return err
	}
	err = os.Rename(name, path)
	return err
}
