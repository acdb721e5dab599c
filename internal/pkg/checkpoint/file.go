package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/spf13/afero"
)

const fileVersion = 1

type fileDocument struct {
	Version int               `json:"version"`
	Stages  map[string]Record `json:"stages"`
}

// File keeps every stage record in one JSON document. Each save writes a
// temporary file, syncs it, keeps the current document as "<path>.old" and
// renames the temporary file over the document.
type File struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	logger *log.FieldedLogger
}

// NewFile returns a File store at path on the given filesystem.
func NewFile(fsys afero.Fs, path string) *File {
	return &File{
		fs:   fsys,
		path: path,
		logger: log.NewFieldedLogger(&log.Fields{
			"component": "checkpoint.file",
			"path":      path,
		}),
	}
}

// Load implements Store.
func (f *File) Load(ctx context.Context, stage string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return Record{}, err
	}

	rec, ok := doc.Stages[stage]
	if !ok {
		return Record{Stage: stage}, nil
	}
	return rec.Clone(), nil
}

// List implements Store.
func (f *File) List(ctx context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(doc.Stages))
	for _, rec := range doc.Stages {
		records = append(records, rec.Clone())
	}
	slices.SortFunc(records, func(a, b Record) int { return strings.Compare(a.Stage, b.Stage) })

	return records, nil
}

// Save implements Store.
func (f *File) Save(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	if err := checkAdvance(doc.Stages[rec.Stage], rec); err != nil {
		return err
	}

	rec = rec.Clone()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	doc.Stages[rec.Stage] = rec

	return f.dump(doc)
}

// Reset implements Store.
func (f *File) Reset(ctx context.Context, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	if _, ok := doc.Stages[stage]; !ok {
		return nil
	}
	delete(doc.Stages, stage)

	f.logger.Info("checkpoint reset", "stage", stage)

	return f.dump(doc)
}

// Close implements Store.
func (f *File) Close() error {
	return nil
}

// read loads the document, falling back to the backup when a crash happened
// between the two renames of a dump.
func (f *File) read() (fileDocument, error) {
	doc := fileDocument{
		Version: fileVersion,
		Stages:  make(map[string]Record),
	}

	data, err := afero.ReadFile(f.fs, f.path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
		data, err = afero.ReadFile(f.fs, f.path+".old")
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		if err == nil {
			f.logger.Warn("checkpoint file missing, using backup")
		}
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode checkpoint file: %w", err)
	}
	if doc.Stages == nil {
		doc.Stages = make(map[string]Record)
	}

	return doc, nil
}

// dump writes the document atomically: the temporary file (n) is written and
// synced, the current file (n-1) becomes the backup (n-2) and n is renamed to n-1.
func (f *File) dump(doc fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	tempFile, err := afero.TempFile(f.fs, dir, filepath.Base(f.path)+".tmp_")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	tempName := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		f.fs.Remove(tempName)
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		f.fs.Remove(tempName)
		return fmt.Errorf("failed to sync temp checkpoint file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		f.fs.Remove(tempName)
		return fmt.Errorf("failed to close temp checkpoint file: %w", err)
	}

	if _, err := f.fs.Stat(f.path); err == nil {
		if err := f.fs.Rename(f.path, f.path+".old"); err != nil {
			f.fs.Remove(tempName)
			return fmt.Errorf("failed to backup checkpoint file: %w", err)
		}
	}

	if err := f.fs.Rename(tempName, f.path); err != nil {
		// put the backup back so the previous checkpoint stays readable
		f.fs.Rename(f.path+".old", f.path)
		f.fs.Remove(tempName)
		return fmt.Errorf("failed to rename temp checkpoint file: %w", err)
	}

	return nil
}
