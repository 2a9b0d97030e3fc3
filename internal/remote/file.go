package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kimhsiao/slotboard/internal/models"
)

// DocumentName is the file holding the current document inside a FileStore directory.
const DocumentName = "slotboard.json"

// CalculateHash calculates the SHA-256 hash of data.
func CalculateHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// FileStore keeps the document in a directory, typically a shared or synced folder.
// The version token is the SHA-256 of the stored bytes. Every written version is also
// kept content-addressed under history/{hash[0:2]}/{hash[2:4]}/{hash}.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) documentPath() string {
	return filepath.Join(f.dir, DocumentName)
}

func (f *FileStore) historyPath(hash string) string {
	return filepath.Join(f.dir, "history", hash[0:2], hash[2:4], hash)
}

func (f *FileStore) read(op string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.documentPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewError(KindOther, op, 0, err)
	}
	return data, true, nil
}

// FetchSnapshot reads the document.
func (f *FileStore) FetchSnapshot(ctx context.Context) (FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return FetchResult{}, TransportError("fetch", err)
	}

	f.mu.Lock()
	data, ok, err := f.read("fetch")
	f.mu.Unlock()
	if err != nil || !ok {
		return FetchResult{}, err
	}

	var snap models.RemoteSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return FetchResult{}, NewError(KindOther, "fetch", 0, fmt.Errorf("decode document: %w", err))
	}
	snap.VersionToken = CalculateHash(data)
	return FetchResult{Snapshot: &snap, Found: true}, nil
}

// FetchVersionToken returns the hash of the current document.
func (f *FileStore) FetchVersionToken(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, TransportError("version", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok, err := f.read("version")
	if err != nil || !ok {
		return "", false, err
	}
	return CalculateHash(data), true, nil
}

// WriteSnapshot replaces the document when its hash equals expected.
func (f *FileStore) WriteSnapshot(ctx context.Context, snap *models.RemoteSnapshot, expected string) (string, error) {
	const op = "write"
	if err := ctx.Err(); err != nil {
		return "", TransportError(op, err)
	}

	doc, err := json.MarshalIndent(snap.ForUpload(), "", "  ")
	if err != nil {
		return "", NewError(KindOther, op, 0, fmt.Errorf("encode document: %w", err))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, ok, err := f.read(op)
	if err != nil {
		return "", err
	}
	currentHash := ""
	if ok {
		currentHash = CalculateHash(current)
	}
	if currentHash != expected {
		return "", NewError(KindVersionConflict, op, 0,
			fmt.Errorf("expected version %q, found %q", expected, currentHash))
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return "", NewError(KindOther, op, 0, fmt.Errorf("failed to create directory: %w", err))
	}

	hash := CalculateHash(doc)
	if err := f.storeHistory(hash, doc); err != nil {
		return "", NewError(KindOther, op, 0, err)
	}

	tmp := f.documentPath() + ".tmp"
	if err := os.WriteFile(tmp, doc, 0644); err != nil {
		return "", NewError(KindOther, op, 0, fmt.Errorf("failed to write file: %w", err))
	}
	if err := os.Rename(tmp, f.documentPath()); err != nil {
		os.Remove(tmp)
		return "", NewError(KindOther, op, 0, fmt.Errorf("failed to replace document: %w", err))
	}
	return hash, nil
}

func (f *FileStore) storeHistory(hash string, data []byte) error {
	path := f.historyPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// Version returns a previously written document by its token.
func (f *FileStore) Version(token string) (*models.RemoteSnapshot, error) {
	if len(token) != sha256.Size*2 {
		return nil, fmt.Errorf("invalid version token %q", token)
	}
	data, err := os.ReadFile(f.historyPath(token))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("version not found: %w", err)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var snap models.RemoteSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	snap.VersionToken = token
	return &snap, nil
}
