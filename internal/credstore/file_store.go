package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FileStore persists credentials as a JSON document under the user config
// directory. A sibling flock guards the file against a second parley process
// writing concurrently; within this process a mutex serializes access.
type FileStore struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

func DefaultCredentialsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(root, "parley", "credentials.json"), nil
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create credentials directory: %w", err)
	}
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (f *FileStore) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.readLocked()
	if err != nil {
		return "", false
	}
	value, ok := values[key]
	return value, ok
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.readLocked()
	if err != nil {
		return err
	}
	values[key] = value
	return f.writeLocked(values)
}

func (f *FileStore) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.readLocked()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	if len(values) == 0 {
		if removeErr := os.Remove(f.path); removeErr != nil && !os.IsNotExist(removeErr) {
			return removeErr
		}
		return nil
	}
	return f.writeLocked(values)
}

func (f *FileStore) readLocked() (map[string]string, error) {
	if err := f.lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire credentials lock: %w", err)
	}
	defer func() {
		_ = f.lock.Unlock()
	}()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	values := map[string]string{}
	if unmarshalErr := json.Unmarshal(data, &values); unmarshalErr != nil {
		// Corrupt credential file reads as empty; the session starts anonymous.
		return map[string]string{}, nil
	}
	return values, nil
}

func (f *FileStore) writeLocked(values map[string]string) error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("acquire credentials lock: %w", err)
	}
	defer func() {
		_ = f.lock.Unlock()
	}()

	payload, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
