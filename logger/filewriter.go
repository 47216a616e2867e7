// This file is a modified redistribution of reopen (github.com/client9/reopen),
// which is governed by the following license notice:
//
// The MIT License (MIT)
//
// Copyright (c) 2015 Nick Galbreath
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package logger

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("log file closed")

// FileWriter is an append-only log file that can be reopened in place,
// typically after an external tool has rotated it.
type FileWriter struct {
	mu   sync.Mutex // serializes close / reopen / write, protects f
	f    *os.File
	mode os.FileMode
	name string
}

// Close closes the underlying file. Later writes fail with ErrClosed.
func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

// mutex free version
func (f *FileWriter) reopen() error {
	if f.f != nil {
		f.f.Close()
		f.f = nil
	}
	newf, err := os.OpenFile(f.name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, f.mode)
	if err != nil {
		return errors.Wrapf(err, "opening log file %s", f.name)
	}
	f.f = newf
	return nil
}

// Reopen closes and reopens the file by name, picking up a new inode if
// the old file was moved away.
func (f *FileWriter) Reopen() error {
	f.mu.Lock()
	err := f.reopen()
	f.mu.Unlock()
	return err
}

// Write implements io.Writer.
func (f *FileWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return 0, ErrClosed
	}
	return f.f.Write(p)
}

// Name returns the path the writer was opened with.
func (f *FileWriter) Name() string {
	return f.name
}

// NewFileWriter opens a file for appending with mode 0600.
func NewFileWriter(name string) (*FileWriter, error) {
	return NewFileWriterMode(name, 0600)
}

// NewFileWriterMode opens a reopenable file with a specific permission.
func NewFileWriterMode(name string, mode os.FileMode) (*FileWriter, error) {
	writer := FileWriter{
		name: name,
		mode: mode,
	}
	if err := writer.reopen(); err != nil {
		return nil, err
	}
	return &writer, nil
}
