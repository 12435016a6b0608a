// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is statfeed's single CBOR configuration. Snapshot
// manifests and run-lock holder records are encoded here so the same
// logical value always produces the same bytes, which is what makes
// manifest hashes stable.
package codec

import (
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, shortest integers, no indefinite lengths. Times are encoded as
// RFC 3339 strings with nanoseconds so they round-trip exactly.
var encMode cbor.EncMode

// decMode decodes untyped maps as map[string]any and ignores unknown
// fields so older binaries can read newer manifests.
var decMode cbor.DecMode

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: decoding %T: %w", v, err)
	}
	return nil
}

// Diagnose returns the RFC 8949 diagnostic notation of data, for
// debugging output such as "statfeed snapshots show --raw".
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

// UTC truncates t to microseconds in UTC. Values stored through the
// codec are normalized with it so monotonic clock readings and zone
// pointers do not leak into equality checks after a round trip.
func UTC(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
