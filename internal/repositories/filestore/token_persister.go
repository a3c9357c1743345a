// Package filestore persists the token set as a single JSON document that is
// replaced atomically on every write.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/SscSPs/bearer_gate/internal/apperrors"
	"github.com/SscSPs/bearer_gate/internal/core/domain"
	portsrepo "github.com/SscSPs/bearer_gate/internal/core/ports/repositories"
)

const snapshotVersion = 1

// snapshot is the on-disk layout.
type snapshot struct {
	Version int                    `json:"version"`
	Tokens  []domain.TokenMetadata `json:"tokens"`
}

// TokenPersister stores tokens in one JSON file at path.
//
// Writes go to a temp file in the same directory which is fsynced and renamed
// over the target, so readers only ever see a fully committed document.
// The read-merge-rename sequence runs under an exclusive lock on path+".lock"
// so the server and the admin CLI can share the file.
type TokenPersister struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	lastWrite os.FileInfo
}

var (
	_ portsrepo.TokenPersister      = (*TokenPersister)(nil)
	_ portsrepo.TokenChangeNotifier = (*TokenPersister)(nil)
)

// NewTokenPersister returns a persister for path, creating its directory.
func NewTokenPersister(path string, logger *slog.Logger) (*TokenPersister, error) {
	if path == "" {
		return nil, errors.New("filestore: path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %w", apperrors.ErrStoreIO, err)
	}
	return &TokenPersister{path: path, logger: logger}, nil
}

// Path returns the store file location.
func (p *TokenPersister) Path() string {
	return p.path
}

// Load reads the committed document. A missing file is an empty store.
func (p *TokenPersister) Load(_ context.Context) ([]domain.TokenMetadata, error) {
	return p.read()
}

// Save merges records with the file's current contents and replaces it.
// It gives up without touching the file once ctx is done.
func (p *TokenPersister) Save(ctx context.Context, records []domain.TokenMetadata) ([]domain.TokenMetadata, error) {
	unlock, err := lockFile(ctx, p.path+".lock")
	if err != nil {
		return nil, fmt.Errorf("%w: lock store: %w", apperrors.ErrStoreIO, err)
	}
	defer unlock()

	current, err := p.read()
	if err != nil {
		return nil, err
	}
	merged := domain.MergeTokenSets(records, current)

	if err := p.write(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Close is a no-op; the file is only open while reading or writing.
func (p *TokenPersister) Close() error {
	return nil
}

func (p *TokenPersister) read() ([]domain.TokenMetadata, error) {
	f, err := os.Open(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.TokenMetadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", apperrors.ErrStoreIO, p.path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", apperrors.ErrStoreIO, p.path, err)
	}

	var doc snapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", apperrors.ErrCorruptStore, p.path, err)
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", apperrors.ErrCorruptStore, doc.Version)
	}
	if doc.Tokens == nil {
		doc.Tokens = []domain.TokenMetadata{}
	}
	return doc.Tokens, nil
}

func (p *TokenPersister) write(ctx context.Context, records []domain.TokenMetadata) error {
	dir := filepath.Dir(p.path)

	tmpFile, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", apperrors.ErrStoreIO, err)
	}
	tmpPath := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmpFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot{Version: snapshotVersion, Tokens: records}); err != nil {
		return fmt.Errorf("%w: encode snapshot: %w", apperrors.ErrStoreIO, err)
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("%w: chmod temp file: %w", apperrors.ErrStoreIO, err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync temp file: %w", apperrors.ErrStoreIO, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %w", apperrors.ErrStoreIO, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: save abandoned: %w", apperrors.ErrStoreIO, err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		return fmt.Errorf("%w: rename snapshot to %s: %w", apperrors.ErrStoreIO, p.path, err)
	}
	committed = true

	// Persist the rename itself. Not every platform can fsync a directory.
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			p.logger.Debug("Directory sync failed", slog.String("dir", dir), slog.String("error", err.Error()))
		}
		d.Close()
	}

	if info, err := os.Stat(p.path); err == nil {
		p.mu.Lock()
		p.lastWrite = info
		p.mu.Unlock()
	}
	return nil
}

// writtenByUs reports whether the file on disk is the one this persister
// last wrote, so watchers can ignore their own writes.
func (p *TokenPersister) writtenByUs() bool {
	info, err := os.Stat(p.path)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastWrite != nil && os.SameFile(info, p.lastWrite) &&
		info.ModTime().Equal(p.lastWrite.ModTime()) && info.Size() == p.lastWrite.Size()
}
