package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chazu/ballast/pkg/resource"
)

// fileFormatVersion is the on-disk document version
const fileFormatVersion = "v1"

// fileDocument is the JSON document persisted by File
type fileDocument struct {
	Version   string           `json:"version"`
	Resources []*ObservedState `json:"resources"`
}

// File is a Store persisted as a single JSON document. Writes are atomic
// (tmp file + rename) and a write must reach disk before Put returns, so a
// successful Put is durable.
type File struct {
	mu      sync.Mutex
	path    string
	records map[resource.ID]*ObservedState
}

// NewFile opens (or initializes) a file-backed store at path
func NewFile(path string) (*File, error) {
	f := &File{
		path:    path,
		records: make(map[resource.ID]*ObservedState),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if doc.Version != fileFormatVersion {
		return nil, fmt.Errorf("state file %s has unsupported version %q", path, doc.Version)
	}
	for _, obs := range doc.Resources {
		f.records[obs.ID] = obs
	}
	return f, nil
}

// Get returns the observed state for id, or ErrNotFound
func (f *File) Get(ctx context.Context, id resource.ID) (*ObservedState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obs, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return obs.Clone(), nil
}

// Put writes a record, enforcing the serial compare-and-swap, and persists
// the document before returning
func (f *File) Put(ctx context.Context, obs *ObservedState) error {
	if obs == nil {
		return fmt.Errorf("observed state cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var current int64
	prior, exists := f.records[obs.ID]
	if exists {
		current = prior.Serial
	}
	if obs.Serial != current+1 {
		return fmt.Errorf("%s: have serial %d, presented %d: %w", obs.ID, current, obs.Serial, ErrSerialConflict)
	}

	record := obs.Clone()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}
	f.records[obs.ID] = record

	if err := f.save(); err != nil {
		// Roll back so memory never claims a write the file lost
		if exists {
			f.records[obs.ID] = prior
		} else {
			delete(f.records, obs.ID)
		}
		return err
	}
	return nil
}

// Delete removes the record for id and persists the document
func (f *File) Delete(ctx context.Context, id resource.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prior, existed := f.records[id]
	if !existed {
		return nil
	}
	delete(f.records, id)

	if err := f.save(); err != nil {
		f.records[id] = prior
		return err
	}
	return nil
}

// List returns all records ordered by identity
func (f *File) List(ctx context.Context) ([]*ObservedState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records := make([]*ObservedState, 0, len(f.records))
	for _, obs := range f.records {
		records = append(records, obs.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID.String() < records[j].ID.String()
	})
	return records, nil
}

// save persists the document atomically (must hold lock)
func (f *File) save() error {
	doc := fileDocument{Version: fileFormatVersion}
	for _, obs := range f.records {
		doc.Resources = append(doc.Resources, obs)
	}
	sort.Slice(doc.Resources, func(i, j int) bool {
		return doc.Resources[i].ID.String() < doc.Resources[j].ID.String()
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	// Write atomically
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}
