package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/msalah0e/valence/internal/graph"
)

// FileBackend stores each user's snapshot as JSON in a directory. With
// encryption on, files are sealed with AES-256-GCM under a host-derived key.
type FileBackend struct {
	dir     string
	encrypt bool
	key     []byte

	mu      sync.Mutex
	written map[string][sha256.Size]byte
}

// NewFileBackend creates a backend rooted at dir.
func NewFileBackend(dir string, encrypt bool) *FileBackend {
	return &FileBackend{
		dir:     dir,
		encrypt: encrypt,
		key:     deriveKey(),
		written: make(map[string][sha256.Size]byte),
	}
}

// OwnWrite reports whether data is exactly what this backend last wrote for
// the user, so watchers can ignore their own process's saves.
func (f *FileBackend) OwnWrite(userID string, data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum, ok := f.written[userID]
	return ok && sum == sha256.Sum256(data)
}

func (f *FileBackend) Name() string { return KindFile }

// Path returns the session file for a user.
func (f *FileBackend) Path(userID string) string {
	ext := ".json"
	if f.encrypt {
		ext = ".enc"
	}
	return filepath.Join(f.dir, userID+ext)
}

// Dir returns the session directory.
func (f *FileBackend) Dir() string { return f.dir }

func (f *FileBackend) Load(ctx context.Context, userID string) (*graph.Snapshot, error) {
	if err := ValidUser(userID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if f.encrypt {
		if data, err = f.decrypt(data); err != nil {
			return nil, fmt.Errorf("session decrypt: %w", err)
		}
	}
	snap, err := graph.ParseSnapshot(data)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (f *FileBackend) Save(ctx context.Context, userID string, snap graph.Snapshot) error {
	if err := ValidUser(userID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if f.encrypt {
		if data, err = f.seal(data); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}

	// Write then rename so a watcher never sees a half-written file.
	path := f.Path(userID)
	tmp, err := os.CreateTemp(f.dir, ".session-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	f.mu.Lock()
	f.written[userID] = sha256.Sum256(data)
	f.mu.Unlock()
	return nil
}

func deriveKey() []byte {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("valence-session:%s:%s", hostname, username)))
	return hash[:]
}

func (f *FileBackend) seal(plaintext []byte) ([]byte, error) {
	gcm, err := f.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (f *FileBackend) decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := f.gcm()
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(ciphertext) < n {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return gcm.Open(nil, ciphertext[:n], ciphertext[n:], nil)
}

func (f *FileBackend) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
