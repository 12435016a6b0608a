// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot is a versioned, content-addressed record of the
// data directory. After each successful data stage the pipeline puts
// a snapshot: every file is stored once under its BLAKE3 digest
// (compressed), and a timestamped CBOR manifest lists the files of
// that run. Identical files across runs share one object.
//
// On disk:
//
//	<root>/objects/ab/cd/abcd...   framed, compressed file content
//	<root>/manifests/<id>.cbor     one manifest per snapshot
//	<root>/tmp/                    staging for atomic renames
//
// The store is safe for concurrent readers. Writers are serialized by
// the caller (the publish run lock).
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/statfeed/statfeed/lib/codec"
	"github.com/statfeed/statfeed/lib/contenthash"
)

const (
	objectsDir   = "objects"
	manifestsDir = "manifests"
	tmpDir       = "tmp"

	manifestSuffix = ".cbor"
	idTimeLayout   = "20060102T150405Z"
)

var (
	// ErrNotFound is returned when a snapshot ID or file is unknown.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupt is returned for a stored object that is truncated or
	// does not match its digest.
	ErrCorrupt = errors.New("snapshot object is corrupt")
)

// Manifest describes one snapshot.
type Manifest struct {
	ID      string    `cbor:"id"`
	RunID   string    `cbor:"run_id"`
	Created time.Time `cbor:"created"`
	// Digest is the contenthash tree digest over Files.
	Digest string       `cbor:"digest"`
	Files  []FileRecord `cbor:"files"`
}

// FileRecord is one file within a snapshot.
type FileRecord struct {
	Path        string `cbor:"path"`
	Digest      string `cbor:"digest"`
	Size        int64  `cbor:"size"`
	StoredSize  int64  `cbor:"stored_size"`
	Compression string `cbor:"compression"`
}

// TotalSize returns the uncompressed size of all files.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, file := range m.Files {
		total += file.Size
	}
	return total
}

// Store is a snapshot store rooted at a directory.
type Store struct {
	root        string
	compression Compression
}

// Open returns a Store rooted at root, creating its directories. New
// objects are written with compression.
func Open(root string, compression Compression) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, objectsDir), filepath.Join(root, manifestsDir), filepath.Join(root, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating snapshot directory %s: %w", dir, err)
		}
	}
	return &Store{root: root, compression: compression}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Put records the files under paths (relative to workspace) as a new
// snapshot for runID taken at now. Objects already present are not
// rewritten.
func (s *Store) Put(workspace string, paths []string, runID string, now time.Time) (*Manifest, error) {
	digest, entries, err := contenthash.Tree(workspace, paths...)
	if err != nil {
		return nil, fmt.Errorf("hashing snapshot content: %w", err)
	}

	manifest := &Manifest{
		ID:      now.UTC().Format(idTimeLayout) + "-" + digest.Short(),
		RunID:   runID,
		Created: codec.UTC(now),
		Digest:  digest.String(),
		Files:   make([]FileRecord, 0, len(entries)),
	}

	for _, entry := range entries {
		record, err := s.putObject(filepath.Join(workspace, filepath.FromSlash(entry.Path)), entry)
		if err != nil {
			return nil, err
		}
		manifest.Files = append(manifest.Files, record)
	}

	data, err := codec.Marshal(manifest)
	if err != nil {
		return nil, err
	}
	if err := s.writeAtomic(s.manifestPath(manifest.ID), data); err != nil {
		return nil, fmt.Errorf("writing manifest %s: %w", manifest.ID, err)
	}
	return manifest, nil
}

func (s *Store) putObject(source string, entry contenthash.Entry) (FileRecord, error) {
	record := FileRecord{
		Path:   entry.Path,
		Digest: entry.Digest.String(),
		Size:   entry.Size,
	}

	objectPath := s.objectPath(entry.Digest)
	if info, err := os.Stat(objectPath); err == nil {
		object, err := os.ReadFile(objectPath)
		if err != nil {
			return record, fmt.Errorf("reading object %s: %w", entry.Digest.Short(), err)
		}
		if len(object) < 2 {
			return record, fmt.Errorf("%w: %s is %d bytes", ErrCorrupt, entry.Digest.Short(), len(object))
		}
		record.StoredSize = info.Size()
		record.Compression = Compression(object[0]).String()
		return record, nil
	}

	content, err := os.ReadFile(source)
	if err != nil {
		return record, fmt.Errorf("reading %s: %w", entry.Path, err)
	}
	// The file may have changed between hashing and reading.
	if contenthash.Bytes(content) != entry.Digest {
		return record, fmt.Errorf("%s changed while it was being snapshotted", entry.Path)
	}

	object, used, err := encodeObject(content, s.compression)
	if err != nil {
		return record, fmt.Errorf("compressing %s: %w", entry.Path, err)
	}
	if err := s.writeAtomic(objectPath, object); err != nil {
		return record, fmt.Errorf("writing object for %s: %w", entry.Path, err)
	}
	record.StoredSize = int64(len(object))
	record.Compression = used.String()
	return record, nil
}

// Get returns the manifest with the given ID.
func (s *Store) Get(id string) (*Manifest, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	data, err := os.ReadFile(s.manifestPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", id, err)
	}
	var manifest Manifest
	if err := codec.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", id, err)
	}
	return &manifest, nil
}

// List returns all manifests, oldest first.
func (s *Store) List() ([]*Manifest, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, manifestsDir))
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	var manifests []*Manifest
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, manifestSuffix) {
			continue
		}
		manifest, err := s.Get(strings.TrimSuffix(name, manifestSuffix))
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}
	sort.Slice(manifests, func(i, j int) bool {
		if manifests[i].Created.Equal(manifests[j].Created) {
			return manifests[i].ID < manifests[j].ID
		}
		return manifests[i].Created.Before(manifests[j].Created)
	})
	return manifests, nil
}

// Latest returns the most recent manifest, or ErrNotFound if the store
// is empty.
func (s *Store) Latest() (*Manifest, error) {
	manifests, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		return nil, ErrNotFound
	}
	return manifests[len(manifests)-1], nil
}

// ReadFile returns the content of one file of a snapshot.
func (s *Store) ReadFile(manifest *Manifest, relative string) ([]byte, error) {
	for _, file := range manifest.Files {
		if file.Path == relative {
			return s.readObject(file)
		}
	}
	return nil, fmt.Errorf("%w: %s has no file %q", ErrNotFound, manifest.ID, relative)
}

// Restore writes every file of the snapshot under destination,
// creating directories as needed. Existing files are overwritten;
// files not in the snapshot are left alone.
func (s *Store) Restore(manifest *Manifest, destination string) error {
	for _, file := range manifest.Files {
		cleaned := path.Clean(file.Path)
		if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return fmt.Errorf("snapshot %s: refusing to restore path %q outside the destination", manifest.ID, file.Path)
		}
		content, err := s.readObject(file)
		if err != nil {
			return err
		}
		target := filepath.Join(destination, filepath.FromSlash(cleaned))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return fmt.Errorf("restoring %s: %w", file.Path, err)
		}
	}
	return nil
}

// Prune deletes all but the newest keep manifests, then removes objects
// no remaining manifest references. Returns the number of manifests
// removed. keep <= 0 disables pruning.
func (s *Store) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	manifests, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(manifests) <= keep {
		return 0, nil
	}

	doomed := manifests[:len(manifests)-keep]
	live := make(map[string]bool)
	for _, manifest := range manifests[len(manifests)-keep:] {
		for _, file := range manifest.Files {
			live[file.Digest] = true
		}
	}

	for _, manifest := range doomed {
		if err := os.Remove(s.manifestPath(manifest.ID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("removing manifest %s: %w", manifest.ID, err)
		}
		for _, file := range manifest.Files {
			if live[file.Digest] {
				continue
			}
			digest, err := contenthash.Parse(file.Digest)
			if err != nil {
				return 0, fmt.Errorf("manifest %s: %w", manifest.ID, err)
			}
			if err := os.Remove(s.objectPath(digest)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return 0, fmt.Errorf("removing object %s: %w", digest.Short(), err)
			}
		}
	}
	return len(doomed), nil
}

func (s *Store) readObject(file FileRecord) ([]byte, error) {
	digest, err := contenthash.Parse(file.Digest)
	if err != nil {
		return nil, err
	}
	object, err := os.ReadFile(s.objectPath(digest))
	if err != nil {
		return nil, fmt.Errorf("reading object for %s: %w", file.Path, err)
	}
	content, err := decodeObject(object)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding object for %s: %v", ErrCorrupt, file.Path, err)
	}
	if contenthash.Bytes(content) != digest {
		return nil, fmt.Errorf("%w: digest mismatch for %s", ErrCorrupt, file.Path)
	}
	return content, nil
}

// objectPath shards objects by the first two bytes of the digest:
// objects/a3/f9/a3f9b2c1...
func (s *Store) objectPath(digest contenthash.Digest) string {
	hex := digest.String()
	return filepath.Join(s.root, objectsDir, hex[:2], hex[2:4], hex)
}

func (s *Store) manifestPath(id string) string {
	return filepath.Join(s.root, manifestsDir, id+manifestSuffix)
}

// writeAtomic writes data to a temp file and renames it into place.
func (s *Store) writeAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "write-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return err
	}
	success = true
	return nil
}
