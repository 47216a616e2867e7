// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"regexp"

	"github.com/featurebasedb/fbimport/errors"
)

const maxLabel = 64

var labelRegex = regexp.MustCompile("^[a-zA-Z][a-zA-Z0-9_-]*$")

// ValidLabel reports whether label can name an index or field.
func ValidLabel(label string) bool {
	return len(label) <= maxLabel && labelRegex.MatchString(label)
}

func validateLabel(label string) error {
	if ValidLabel(label) {
		return nil
	}
	return errors.Newf(ErrInvalidOption, "invalid label %q", label)
}
