// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pkgkey

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so equal keys always serialise
// to identical bytes; the index relies on this to address rows by key.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.TextMarshaler = cbor.TextMarshalerTextString
	// Records order by build start time; whole seconds are too coarse.
	opts.Time = cbor.TimeRFC3339Nano

	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("pkgkey: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("pkgkey: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with the deterministic CBOR mode used for the index.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

type keyWire struct {
	Name     string   `cbor:"name"`
	Version  Version  `cbor:"version"`
	Features Features `cbor:"features"`
}

// MarshalCBOR implements cbor.Marshaler.
func (k Key) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(keyWire{Name: k.name, Version: k.version, Features: k.features})
}

// UnmarshalCBOR implements cbor.Unmarshaler. The decoded key goes through
// New so malformed rows are rejected rather than producing a half-built key.
func (k *Key) UnmarshalCBOR(data []byte) error {
	var w keyWire
	if err := decMode.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode package key: %w", err)
	}
	if w.Features.Kind > FeaturesNoDefaultPlus {
		return fmt.Errorf("decode package key: unknown feature kind %d", w.Features.Kind)
	}
	decoded, err := New(w.Name, w.Version, w.Features)
	if err != nil {
		return fmt.Errorf("decode package key: %w", err)
	}
	*k = decoded
	return nil
}
