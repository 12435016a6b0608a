// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP response reads. A BLS response for fifty
// series over twenty years is a few megabytes; anything far larger is
// a misbehaving server and is cut off rather than buffered.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxResponseSize bounds JSON response bodies.
const MaxResponseSize int64 = 64 << 20

// maxErrorBody bounds the body excerpt carried in error messages.
const maxErrorBody = 512

// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// ReadResponse reads a response body, failing with ErrResponseTooLarge
// instead of silently truncating.
func ReadResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, MaxResponseSize)
	}
	return data, nil
}

// DecodeResponse reads a body with ReadResponse and JSON-decodes it
// into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// ErrorBody returns a short single-line excerpt of an error response
// for diagnostics. Read errors yield whatever was read.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody+1))
	excerpt := strings.Join(strings.Fields(string(data)), " ")
	if len(data) > maxErrorBody {
		excerpt = excerpt[:min(len(excerpt), maxErrorBody)] + "..."
	}
	return excerpt
}
