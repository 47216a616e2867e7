// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package egpool runs jobs on a bounded set of worker goroutines. Submitting
// a job blocks until a worker is free, so a fast producer is paced by its
// consumers.
package egpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type Group struct {
	PoolSize int

	jobs chan func() error

	sema     chan struct{}
	errMu    sync.Mutex
	firstErr error
}

func (eg *Group) init() {
	if eg.PoolSize <= 0 {
		eg.PoolSize = 1
	}
	if eg.jobs == nil {
		eg.jobs = make(chan func() error)
		eg.sema = make(chan struct{}, eg.PoolSize)
	}
}

// Go runs f on a worker, blocking until one is available.
func (eg *Group) Go(f func() error) {
	_ = eg.GoContext(context.Background(), f)
}

// GoContext is Go, but gives up if ctx is done before a worker picks up f.
// In that case f never runs and ctx.Err() is returned.
func (eg *Group) GoContext(ctx context.Context, f func() error) error {
	eg.init()

	// Start the job in an idle worker if possible.
	select {
	case eg.jobs <- f:
		return nil
	default:
	}

	// Start a new worker if necessary.
	select {
	case eg.jobs <- f:
		// A worker finished its previous job and took this one over.
		return nil
	case eg.sema <- struct{}{}:
		// Start a new worker.
		go eg.processJobs()
		eg.jobs <- f
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (eg *Group) err(err error) {
	eg.errMu.Lock()
	defer eg.errMu.Unlock()

	if eg.firstErr == nil {
		eg.firstErr = err
	}
}

type ErrPanic struct {
	Value interface{}
}

func (p ErrPanic) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

var ErrGoexit = errors.New("runtime.Goexit used in job function")

func (eg *Group) processJobs() {
	// Notify pool of shutdown.
	defer func() { <-eg.sema }()

	// Handle panic and Goexit.
	var finished bool
	defer func() {
		if !finished {
			if p := recover(); p != nil {
				eg.err(ErrPanic{p})
			} else {
				eg.err(ErrGoexit)
			}
		}
	}()

	// Run jobs from queue.
	for jobFn := range eg.jobs {
		err := jobFn()
		if err != nil {
			eg.err(err)
		}
	}

	finished = true
}

// Wait waits for every submitted job to finish and returns the first
// error. The Group cannot be reused afterwards.
func (eg *Group) Wait() error {
	if eg.jobs == nil {
		return nil
	}
	close(eg.jobs)
	for i := 0; i < eg.PoolSize; i++ {
		eg.sema <- struct{}{}
	}
	eg.errMu.Lock()
	defer eg.errMu.Unlock()
	return eg.firstErr
}
