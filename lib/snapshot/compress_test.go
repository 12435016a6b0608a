// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestEncodeDecodeObject(t *testing.T) {
	t.Parallel()
	csv := []byte("seriesID,date,value\n" + strings.Repeat("LNS14000000,2024-01-01,3.7\n", 200))
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		data     []byte
		request  Compression
		wantUsed Compression
	}{
		{"zstd text", csv, CompressionZstd, CompressionZstd},
		{"lz4 text", csv, CompressionLZ4, CompressionLZ4},
		{"none text", csv, CompressionNone, CompressionNone},
		{"zstd random falls back", random, CompressionZstd, CompressionNone},
		{"lz4 random falls back", random, CompressionLZ4, CompressionNone},
		{"empty", nil, CompressionZstd, CompressionNone},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			object, used, err := encodeObject(test.data, test.request)
			if err != nil {
				t.Fatalf("encodeObject: %v", err)
			}
			if used != test.wantUsed {
				t.Errorf("compression used = %s, want %s", used, test.wantUsed)
			}
			if Compression(object[0]) != used {
				t.Errorf("header tag = %d, want %d", object[0], used)
			}
			decoded, err := decodeObject(object)
			if err != nil {
				t.Fatalf("decodeObject: %v", err)
			}
			if !bytes.Equal(decoded, test.data) {
				t.Errorf("decoded %d bytes, want %d", len(decoded), len(test.data))
			}
		})
	}
}

func TestDecodeObjectRejectsDamage(t *testing.T) {
	t.Parallel()
	object, _, err := encodeObject([]byte(strings.Repeat("abc,", 500)), CompressionZstd)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := decodeObject(object[:1]); err == nil {
		t.Error("decodeObject accepted a truncated header")
	}
	if _, err := decodeObject(object[:len(object)/2]); err == nil {
		t.Error("decodeObject accepted a truncated payload")
	}
	badTag := append([]byte{9}, object[1:]...)
	if _, err := decodeObject(badTag); err == nil {
		t.Error("decodeObject accepted an unknown tag")
	}
}

func TestParseCompression(t *testing.T) {
	t.Parallel()
	for name, want := range map[string]Compression{"": CompressionZstd, "zstd": CompressionZstd, "lz4": CompressionLZ4, "none": CompressionNone} {
		got, err := ParseCompression(name)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("ParseCompression(gzip) succeeded")
	}
}
