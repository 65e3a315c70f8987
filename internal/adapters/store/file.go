// Package store persists the room registry as a single JSON document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/spf13/afero"
)

// record is the on-disk shape of one room. Salt and hash are base64 via []byte.
type record struct {
	HasPassword  bool   `json:"hasPassword"`
	Salt         []byte `json:"salt"`
	PasswordHash []byte `json:"passwordHash"`
}

// FileStore rewrites the whole registry file on every Save.
type FileStore struct {
	fs   afero.Fs
	path string
}

func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// NewOSFileStore is a FileStore over the real filesystem.
func NewOSFileStore(path string) *FileStore {
	return NewFileStore(afero.NewOsFs(), path)
}

func (s *FileStore) Path() string { return s.path }

// Load returns an empty registry when the file does not exist.
func (s *FileStore) Load() (map[domain.RoomName]domain.Room, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[domain.RoomName]domain.Room{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", s.path, err)
	}

	var raw map[string]*record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", s.path, err)
	}
	rooms := make(map[domain.RoomName]domain.Room, len(raw))
	for name, rec := range raw {
		if rec == nil {
			rec = &record{}
		}
		rooms[domain.RoomName(name)] = domain.Room{
			Name:         domain.RoomName(name),
			HasPassword:  rec.HasPassword,
			Salt:         rec.Salt,
			PasswordHash: rec.PasswordHash,
		}
	}
	return rooms, nil
}

// Save writes to a temporary file next to the target and renames it over.
func (s *FileStore) Save(rooms map[domain.RoomName]domain.Room) error {
	raw := make(map[string]record, len(rooms))
	for name, room := range rooms {
		rec := record{HasPassword: room.HasPassword}
		if room.HasPassword {
			rec.Salt = room.Salt
			rec.PasswordHash = room.PasswordHash
		}
		raw[string(name)] = rec
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("write registry %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace registry %s: %w", s.path, err)
	}
	return nil
}
