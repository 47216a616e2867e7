// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package errors wraps pkg/errors and includes some custom features such as
// error codes.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. For
// example, see the Is() method.
type Code string

const (
	ErrUncoded Code = "Uncoded"
)

// Coder is implemented by error types which carry their own Code instead of
// being constructed with New. Is() recognizes them anywhere in the chain.
type Coder interface {
	ErrorCode() Code
}

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

// Is is a fork of the Is() method from `pkg/errors` which takes as its target
// an error Code instead of an error.
func Is(err error, target Code) bool {
	if errors.Is(err, codedError{Code: target}) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if c, ok := e.(Coder); ok && c.ErrorCode() == target {
			return true
		}
	}
	return false
}

// CodeOf returns the first Code found in err's chain, or ErrUncoded.
func CodeOf(err error) Code {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := e.(type) {
		case codedError:
			return v.Code
		case Coder:
			return v.ErrorCode()
		}
	}
	return ErrUncoded
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, fmt string, args ...interface{}) error {
	return errors.Wrapf(err, fmt, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code
	Message string
}

func (ce codedError) Error() string {
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}
