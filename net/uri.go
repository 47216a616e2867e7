// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package net

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultPort is the port a cluster node listens on unless told otherwise.
const DefaultPort = 10101

var (
	addressRegexp = regexp.MustCompile(`^(([+a-z]+):\/\/)?([0-9a-z.-]+|\[[:0-9a-fA-F]+\])?(:([0-9]+))?$`)

	ErrInvalidAddress = errors.New("invalid address")
)

// URI is the address of one cluster node. It is a plain value: two URIs
// name the same node exactly when they compare equal with ==.
//
// A URI consists of three parts:
// 1) Scheme: Protocol of the URI. Default: http.
// 2) Host: Hostname or IP. Default: localhost. IPv6 addresses should be written in brackets, e.g., `[fd42:4201:f86b:7e09:216:3eff:fefa:ed80]`.
// 3) Port: Port of the URI. Default: 10101.
//
// All parts of the URI are optional. The following are equivalent:
//
//	http://localhost:10101
//	http://localhost
//	http://:10101
//	localhost:10101
//	localhost
//	:10101
type URI struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   uint16 `json:"port"`
}

// DefaultURI creates and returns the default URI.
func DefaultURI() *URI {
	return &URI{
		Scheme: "http",
		Host:   "localhost",
		Port:   DefaultPort,
	}
}

// URIs is the replica list of a shard, primary first.
type URIs []URI

// Equal reports whether both slices name the same nodes in the same order.
func (u URIs) Equal(other URIs) bool {
	if len(u) != len(other) {
		return false
	}
	for i := range u {
		if u[i] != other[i] {
			return false
		}
	}
	return true
}

// NewURIFromAddress parses the passed address and returns a URI.
func NewURIFromAddress(address string) (*URI, error) {
	return parseAddress(address)
}

// HostPort returns `Host:Port`
func (u URI) HostPort() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// Normalize returns the address in a form usable by a HTTP client.
func (u URI) Normalize() string {
	scheme := u.Scheme
	index := strings.Index(scheme, "+")
	if index >= 0 {
		scheme = scheme[:index]
	}
	return fmt.Sprintf("%s://%s:%d", scheme, u.Host, u.Port)
}

// String returns the address as a string.
func (u URI) String() string {
	return fmt.Sprintf("%s://%s:%d", u.Scheme, u.Host, u.Port)
}

// Translate returns the translated URI based on the provided NAT map.
func (u URI) Translate(nat map[URI]URI) URI {
	if translated, ok := nat[u]; ok {
		return translated
	}
	return u
}

func parseAddress(address string) (uri *URI, err error) {
	m := addressRegexp.FindStringSubmatch(address)
	if m == nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q", address)
	}
	scheme := "http"
	if m[2] != "" {
		scheme = m[2]
	}
	host := "localhost"
	if m[3] != "" {
		host = m[3]
	}
	var port = DefaultPort
	if m[5] != "" {
		port, err = strconv.Atoi(m[5])
		if err != nil {
			return nil, errors.New("converting port string to int")
		}
		if port > 65535 {
			return nil, errors.New("port must be in range 0 - 65535")
		}
	}
	uri = &URI{
		Scheme: scheme,
		Host:   host,
		Port:   uint16(port),
	}
	return uri, nil
}

// MarshalJSON marshals URI into a JSON-encoded byte slice.
func (u URI) MarshalJSON() ([]byte, error) {
	var output struct {
		Scheme string `json:"scheme,omitempty"`
		Host   string `json:"host,omitempty"`
		Port   uint16 `json:"port,omitempty"`
	}
	output.Scheme = u.Scheme
	output.Host = u.Host
	output.Port = u.Port

	return json.Marshal(output)
}

// UnmarshalJSON unmarshals a byte slice to a URI. A missing scheme
// defaults to http.
func (u *URI) UnmarshalJSON(b []byte) error {
	var input struct {
		Scheme string `json:"scheme,omitempty"`
		Host   string `json:"host,omitempty"`
		Port   uint16 `json:"port,omitempty"`
	}
	if err := json.Unmarshal(b, &input); err != nil {
		return err
	}
	u.Scheme = input.Scheme
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	u.Host = input.Host
	u.Port = input.Port
	return nil
}
