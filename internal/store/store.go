// Package store persists drive configurations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// Store defines the interface for drive record storage.
type Store interface {
	// Create stores a new drive record.
	Create(ctx context.Context, rec *types.DriveRecord) error

	// Get retrieves a drive record by ID.
	Get(ctx context.Context, id string) (*types.DriveRecord, error)

	// List retrieves the records for a drive letter, ordered by letter then ID.
	// If letter is empty, returns all records.
	List(ctx context.Context, letter string, limit, offset int) ([]*types.DriveRecord, error)

	// Update replaces an existing drive record.
	Update(ctx context.Context, rec *types.DriveRecord) error

	// Delete removes a drive record by ID.
	Delete(ctx context.Context, id string) error

	// Exists checks if a record with the given ID exists.
	Exists(ctx context.Context, id string) (bool, error)
}

func notFound(id string) error {
	return fmt.Errorf("drive record %s: %w", id, types.ErrNotFound)
}

func validate(rec *types.DriveRecord) error {
	if rec == nil {
		return errors.New("drive record cannot be nil")
	}
	if rec.ID == "" {
		return errors.New("drive record ID cannot be empty")
	}
	return nil
}

func matchesLetter(rec *types.DriveRecord, letter string) bool {
	return letter == "" || strings.EqualFold(rec.Letter, letter)
}

func sortRecords(recs []*types.DriveRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Letter != recs[j].Letter {
			return recs[i].Letter < recs[j].Letter
		}
		return recs[i].ID < recs[j].ID
	})
}

func paginate(recs []*types.DriveRecord, limit, offset int) []*types.DriveRecord {
	if offset >= len(recs) {
		return []*types.DriveRecord{}
	}
	end := offset + limit
	if limit <= 0 || end > len(recs) {
		end = len(recs)
	}
	return recs[offset:end]
}

func cloneRecord(rec *types.DriveRecord) *types.DriveRecord {
	c := *rec
	c.Equivalents = append([]string(nil), rec.Equivalents...)
	return &c
}

// MemoryStore implements Store using in-memory storage.
// Useful for testing and development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.DriveRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*types.DriveRecord),
	}
}

// Create stores a new drive record.
func (s *MemoryStore) Create(ctx context.Context, rec *types.DriveRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("drive record with ID %s already exists", rec.ID)
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

// Get retrieves a drive record by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.DriveRecord, error) {
	if id == "" {
		return nil, errors.New("drive record ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, notFound(id)
	}
	return cloneRecord(rec), nil
}

// List retrieves the records for a drive letter.
func (s *MemoryStore) List(ctx context.Context, letter string, limit, offset int) ([]*types.DriveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.DriveRecord
	for _, rec := range s.records {
		if matchesLetter(rec, letter) {
			result = append(result, cloneRecord(rec))
		}
	}
	sortRecords(result)
	return paginate(result, limit, offset), nil
}

// Update replaces an existing drive record.
func (s *MemoryStore) Update(ctx context.Context, rec *types.DriveRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; !exists {
		return notFound(rec.ID)
	}
	rec.UpdatedAt = time.Now()
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

// Delete removes a drive record by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("drive record ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return notFound(id)
	}
	delete(s.records, id)
	return nil
}

// Exists checks if a record with the given ID exists.
func (s *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("drive record ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.records[id]
	return exists, nil
}

// FileStore implements Store using file-based JSON storage.
// Each drive record is stored as a JSON file under <base>/drives.
type FileStore struct {
	mu       sync.RWMutex
	fs       afero.Fs
	basePath string
}

// NewFileStore creates a file-based store on the host filesystem.
func NewFileStore(basePath string) (*FileStore, error) {
	return NewFileStoreWithFs(afero.NewOsFs(), basePath)
}

// NewFileStoreWithFs creates a file-based store on fsys.
func NewFileStoreWithFs(fsys afero.Fs, basePath string) (*FileStore, error) {
	if basePath == "" {
		return nil, errors.New("base path cannot be empty")
	}

	if err := fsys.MkdirAll(filepath.Join(basePath, "drives"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create drives directory: %w", err)
	}

	return &FileStore{
		fs:       fsys,
		basePath: basePath,
	}, nil
}

func (s *FileStore) recordPath(id string) string {
	return filepath.Join(s.basePath, "drives", id+".json")
}

func (s *FileStore) write(rec *types.DriveRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal drive record: %w", err)
	}

	// Records are replaced atomically.
	tmp := s.recordPath(rec.ID) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write drive record: %w", err)
	}
	if err := s.fs.Rename(tmp, s.recordPath(rec.ID)); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to write drive record: %w", err)
	}
	return nil
}

func (s *FileStore) read(path string) (*types.DriveRecord, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, err
	}
	var rec types.DriveRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal drive record: %w", err)
	}
	return &rec, nil
}

// Create stores a new drive record.
func (s *FileStore) Create(ctx context.Context, rec *types.DriveRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.fs.Stat(s.recordPath(rec.ID)); err == nil {
		return fmt.Errorf("drive record with ID %s already exists", rec.ID)
	}
	return s.write(rec)
}

// Get retrieves a drive record by ID.
func (s *FileStore) Get(ctx context.Context, id string) (*types.DriveRecord, error) {
	if id == "" {
		return nil, errors.New("drive record ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.read(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to read drive record: %w", err)
	}
	return rec, nil
}

// List retrieves the records for a drive letter. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context, letter string, limit, offset int) ([]*types.DriveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.basePath, "drives")
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.DriveRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read drives directory: %w", err)
	}

	var result []*types.DriveRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		rec, err := s.read(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if matchesLetter(rec, letter) {
			result = append(result, rec)
		}
	}
	sortRecords(result)
	return paginate(result, limit, offset), nil
}

// Update replaces an existing drive record.
func (s *FileStore) Update(ctx context.Context, rec *types.DriveRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.fs.Stat(s.recordPath(rec.ID)); os.IsNotExist(err) {
		return notFound(rec.ID)
	}
	rec.UpdatedAt = time.Now()
	return s.write(rec)
}

// Delete removes a drive record by ID.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("drive record ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(id)
	if _, err := s.fs.Stat(path); os.IsNotExist(err) {
		return notFound(id)
	}
	if err := s.fs.Remove(path); err != nil {
		return fmt.Errorf("failed to delete drive record: %w", err)
	}
	return nil
}

// Exists checks if a record with the given ID exists.
func (s *FileStore) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("drive record ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.fs.Stat(s.recordPath(id)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check drive record: %w", err)
	}
	return true, nil
}

// Ensure implementations satisfy the interface
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
