// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sdf

import (
	"fmt"
	"sync"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph/mtime"
)

// NewLockRTracker creates a LockRTracker around rt.
func NewLockRTracker(rt RTracker) *LockRTracker {
	return &LockRTracker{rt: rt}
}

// LockRTracker wraps a restriction tracker and serializes every access to
// it with a mutex. It is the only handle through which the processing
// goroutine and a concurrent split request reach the tracker, and it keeps
// the deferred residual recorded by DeferRemainder.
type LockRTracker struct {
	mu sync.Mutex
	rt RTracker

	deferred   any
	deferredWm mtime.Time
	isDeferred bool
}

// TryClaim delegates to the underlying tracker under the lock.
func (l *LockRTracker) TryClaim(pos any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt.TryClaim(pos)
}

// GetError delegates to the underlying tracker under the lock.
func (l *LockRTracker) GetError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt.GetError()
}

// TrySplit delegates to the underlying tracker under the lock.
func (l *LockRTracker) TrySplit(fraction float64) (primary, residual any, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt.TrySplit(fraction)
}

// GetProgress delegates to the underlying tracker under the lock.
func (l *LockRTracker) GetProgress() (done, remaining float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt.GetProgress()
}

// Progress is GetProgress as a Progress value.
func (l *LockRTracker) Progress() Progress {
	d, r := l.GetProgress()
	return Progress{Done: d, Remaining: r}
}

// IsDone delegates to the underlying tracker under the lock.
func (l *LockRTracker) IsDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt.IsDone()
}

// GetRestriction delegates to the underlying tracker under the lock.
func (l *LockRTracker) GetRestriction() any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt.GetRestriction()
}

// DeferRemainder splits off all unclaimed work as a residual to be resumed
// later, recording watermark with it. A repeated call only updates the
// watermark.
func (l *LockRTracker) DeferRemainder(watermark mtime.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, residual, err := l.rt.TrySplit(0)
	if err != nil {
		return err
	}
	if residual != nil {
		l.deferred = residual
	}
	l.deferredWm = watermark
	l.isDeferred = l.deferred != nil
	return nil
}

// CheckDone returns an error if the tracker stopped with an error, or if
// work remains unclaimed and was not deferred.
func (l *LockRTracker) CheckDone() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rt.GetError(); err != nil {
		return err
	}
	if !l.rt.IsDone() {
		return fmt.Errorf("restriction %v was not fully processed: claim every position or defer the remainder", l.rt.GetRestriction())
	}
	return nil
}

// DeferredStatus returns the residual recorded by DeferRemainder and its
// watermark. ok is false if no work was deferred.
func (l *LockRTracker) DeferredStatus() (residual any, watermark mtime.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deferred, l.deferredWm, l.isDeferred
}
