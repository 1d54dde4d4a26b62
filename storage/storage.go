// Package storage provides the persistence implementations behind the
// session manager: a JSON file snapshot store, a file-backed credential store
// with tight permissions, and an in-memory tab-scoped company pointer.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-erp-session/session"
)

// FileSnapshotStore persists the session snapshot as a JSON file. Writes go
// through a temp file and rename so a crash mid-write never leaves a
// half-written snapshot behind.
type FileSnapshotStore struct {
	mu   sync.Mutex
	path string
}

// NewFileSnapshotStore creates a snapshot store at the given file path.
func NewFileSnapshotStore(path string) (*FileSnapshotStore, error) {
	if path == "" {
		return nil, errors.New("[NewFileSnapshotStore] path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "[NewFileSnapshotStore] create directory")
	}
	return &FileSnapshotStore{path: path}, nil
}

// Load reads the persisted snapshot. A missing file means no snapshot; a
// present but unparsable file is an error the caller treats as unrecoverable.
func (s *FileSnapshotStore) Load() (*session.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "[Load] read snapshot")
	}

	var snap session.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, errors.Wrap(err, "[Load] decode snapshot")
	}

	return &snap, true, nil
}

func (s *FileSnapshotStore) Save(snap *session.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[Save] encode snapshot")
	}

	return errors.Wrap(writeFileAtomic(s.path, raw, 0o644), "[Save] write snapshot")
}

func (s *FileSnapshotStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[Clear] remove snapshot")
	}
	return nil
}

// credentialFile is the on-disk shape of the stored bearer token.
type credentialFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// FileCredentialStore keeps the bearer token in its own file with 0600
// permissions, separate from the snapshot so it can be cleared independently.
type FileCredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewFileCredentialStore creates a credential store at the given file path.
func NewFileCredentialStore(path string) (*FileCredentialStore, error) {
	if path == "" {
		return nil, errors.New("[NewFileCredentialStore] path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "[NewFileCredentialStore] create directory")
	}
	return &FileCredentialStore{path: path}, nil
}

// Token returns the stored bearer token. A token past its recorded expiry is
// reported as absent.
func (s *FileCredentialStore) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return "", false
	}

	var cred credentialFile
	if err := json.Unmarshal(raw, &cred); err != nil {
		return "", false
	}
	if cred.Token == "" {
		return "", false
	}
	if !cred.ExpiresAt.IsZero() && !time.Now().Before(cred.ExpiresAt) {
		return "", false
	}

	return cred.Token, true
}

func (s *FileCredentialStore) Save(token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(credentialFile{Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return errors.Wrap(err, "[Save] encode credential")
	}

	return errors.Wrap(writeFileAtomic(s.path, raw, 0o600), "[Save] write credential")
}

func (s *FileCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[Clear] remove credential")
	}
	return nil
}

// MemoryTabStore is the tab-scoped company pointer. It is in-memory on
// purpose: it lives and dies with one tab (one process), which is what lets
// two tabs of the same session point at different companies.
type MemoryTabStore struct {
	mu        sync.Mutex
	companyID string
	set       bool
}

// NewMemoryTabStore creates an empty tab store.
func NewMemoryTabStore() *MemoryTabStore {
	return &MemoryTabStore{}
}

func (s *MemoryTabStore) CompanyID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.companyID, s.set
}

func (s *MemoryTabStore) SetCompanyID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companyID = id
	s.set = true
}

func (s *MemoryTabStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companyID = ""
	s.set = false
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}
