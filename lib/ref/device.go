// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// DeviceID is a Matrix device identifier. Device IDs are opaque strings
// with no internal structure; the type keeps them from being confused
// with user IDs, key IDs, or request IDs at compile time.
type DeviceID struct {
	id string
}

// ParseDeviceID constructs a DeviceID. Returns an error if raw is empty.
func ParseDeviceID(raw string) (DeviceID, error) {
	if raw == "" {
		return DeviceID{}, fmt.Errorf("device ID is empty")
	}
	return DeviceID{id: raw}, nil
}

// MustParseDeviceID is ParseDeviceID for tests. Panics on empty input.
func MustParseDeviceID(raw string) DeviceID {
	deviceID, err := ParseDeviceID(raw)
	if err != nil {
		panic(err)
	}
	return deviceID
}

// String returns the raw device ID.
func (d DeviceID) String() string { return d.id }

// IsZero reports whether the DeviceID is unset.
func (d DeviceID) IsZero() bool { return d.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (d DeviceID) MarshalText() ([]byte, error) {
	if d.id == "" {
		return nil, fmt.Errorf("cannot marshal zero DeviceID")
	}
	return []byte(d.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (d *DeviceID) UnmarshalText(data []byte) error {
	*d = DeviceID{id: string(data)}
	return nil
}
