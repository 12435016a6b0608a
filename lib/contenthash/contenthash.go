// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package contenthash computes BLAKE3 digests of data files and of
// whole data directories. A tree digest covers every regular file's
// relative path and content, so two runs that leave the data directory
// byte-identical produce the same digest regardless of mtimes.
package contenthash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 keyed hash.
type Digest [32]byte

// String returns the lowercase hex form of d.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Short returns the first 12 hex characters, for logs and tables.
func (d Digest) Short() string { return d.String()[:12] }

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool { return d == Digest{} }

// Parse decodes a 64-character hex digest.
func Parse(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return digest, fmt.Errorf("parsing digest %q: %w", text, err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("parsing digest %q: got %d bytes, want %d", text, len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// Domain keys separate file digests from tree digests so a file whose
// bytes happen to equal a tree encoding cannot collide with it. The
// bytes are the ASCII domain name, zero-padded to 32.
var (
	fileDomainKey = [32]byte{
		's', 't', 'a', 't', 'f', 'e', 'e', 'd', '.', 'f', 'i', 'l', 'e',
	}
	treeDomainKey = [32]byte{
		's', 't', 'a', 't', 'f', 'e', 'e', 'd', '.', 't', 'r', 'e', 'e',
	}
)

func newHasher(key [32]byte) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// Only returned for a wrong key length, which the array type rules out.
		panic("contenthash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func sum(hasher *blake3.Hasher) Digest {
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Bytes returns the file-domain digest of data.
func Bytes(data []byte) Digest {
	hasher := newHasher(fileDomainKey)
	hasher.Write(data)
	return sum(hasher)
}

// Reader returns the file-domain digest of everything read from r and
// the number of bytes read.
func Reader(r io.Reader) (Digest, int64, error) {
	hasher := newHasher(fileDomainKey)
	written, err := io.Copy(hasher, r)
	if err != nil {
		return Digest{}, written, err
	}
	return sum(hasher), written, nil
}

// File returns the file-domain digest and size of the file at path.
func File(path string) (Digest, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, err
	}
	defer file.Close()
	digest, size, err := Reader(file)
	if err != nil {
		return Digest{}, 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, size, nil
}

// Entry is one file in a tree digest.
type Entry struct {
	// Path is slash-separated and relative to the tree root.
	Path   string
	Digest Digest
	Size   int64
}

// Tree walks each of paths (files or directories, relative to root)
// and returns the tree digest with its sorted entries. Paths that do
// not exist contribute nothing, so a deleted output file changes the
// digest instead of failing. Symlinks and other non-regular files are
// skipped.
func Tree(root string, paths ...string) (Digest, []Entry, error) {
	seen := make(map[string]bool)
	var entries []Entry

	add := func(absolute string) error {
		relative, err := filepath.Rel(root, absolute)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)
		if seen[relative] {
			return nil
		}
		seen[relative] = true
		digest, size, err := File(absolute)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: relative, Digest: digest, Size: size})
		return nil
	}

	for _, path := range paths {
		start := filepath.Join(root, path)
		err := filepath.WalkDir(start, func(current string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				if entry.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			if !entry.Type().IsRegular() {
				return nil
			}
			return add(current)
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Digest{}, nil, fmt.Errorf("walking %s: %w", start, err)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return Combine(entries), entries, nil
}

// Combine computes the tree digest of entries, which must already be
// sorted by Path. Each entry contributes its path, a NUL separator,
// and its file digest.
func Combine(entries []Entry) Digest {
	hasher := newHasher(treeDomainKey)
	for _, entry := range entries {
		hasher.Write([]byte(entry.Path))
		hasher.Write([]byte{0})
		hasher.Write(entry.Digest[:])
	}
	return sum(hasher)
}
