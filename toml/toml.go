// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package toml

import (
	"strconv"
	"time"
)

// Duration is a TOML wrapper type for time.Duration. It also satisfies
// pflag.Value so the same field can back a command line flag.
type Duration time.Duration

// String returns the string representation of the duration.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a TOML value into a duration value.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(v)
	return nil
}

// MarshalText writes duration value in text format.
func (d Duration) MarshalText() (text []byte, err error) {
	return []byte(d.String()), nil
}

// MarshalTOML writes the duration as a quoted TOML string.
func (d Duration) MarshalTOML() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

// Set parses a flag value. An empty value is zero.
func (d *Duration) Set(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// Type is the type name shown in flag usage.
func (d Duration) Type() string {
	return "duration"
}
