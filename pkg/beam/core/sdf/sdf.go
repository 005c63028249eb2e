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

// Package sdf contains the interfaces used by splittable units: restriction
// trackers, restriction providers and watermark estimators, plus the
// lock-guarded tracker handle that makes dynamic splitting safe.
package sdf

import (
	"fmt"
	"reflect"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph/mtime"
)

var (
	RTrackerType           = reflect.TypeOf((*RTracker)(nil)).Elem()
	WatermarkEstimatorType = reflect.TypeOf((*WatermarkEstimator)(nil)).Elem()
)

// RTracker is the interface for restriction trackers. A tracker owns one
// restriction and records which positions of it have been claimed.
//
// Trackers are not required to be goroutine safe; the execution core wraps
// them in a LockRTracker before handing them to user code.
type RTracker interface {
	// TryClaim attempts to claim the block of work at pos. It returns false
	// when the position is outside the restriction or an error occurred, in
	// which case processing of the element should stop.
	TryClaim(pos any) (ok bool)

	// GetError returns the error that made the tracker stop, if any.
	GetError() error

	// TrySplit splits the remaining unclaimed work at fraction of it. The
	// primary is the part kept by the current invocation, the residual the
	// part handed back. A nil residual means no split happened.
	TrySplit(fraction float64) (primary, residual any, err error)

	// GetProgress returns the amount of work done and remaining.
	GetProgress() (done, remaining float64)

	// IsDone reports whether every position of the restriction was claimed.
	IsDone() bool

	// GetRestriction returns the current restriction.
	GetRestriction() any
}

// RestrictionProvider is implemented by splittable units.
type RestrictionProvider interface {
	CreateInitialRestriction(elm any) any
	CreateTracker(rest any) RTracker
	RestrictionSize(elm, rest any) float64
	SplitRestriction(elm, rest any) []any
}

// WatermarkEstimator reports the output watermark of a splittable element.
type WatermarkEstimator interface {
	// CurrentWatermark returns the current estimate. Safe for concurrent use.
	CurrentWatermark() mtime.Time
	// Reset prepares the estimator for a new element.
	Reset()
}

// WatermarkEstimatorProvider is implemented by splittable units that track
// an output watermark.
type WatermarkEstimatorProvider interface {
	CreateWatermarkEstimator() WatermarkEstimator
}

// Progress is a snapshot of the work done and remaining for an element.
type Progress struct {
	Done, Remaining float64
}

// Fraction returns the completed fraction, or 0 when no work is known.
func (p Progress) Fraction() float64 {
	if total := p.Done + p.Remaining; total > 0 {
		return p.Done / total
	}
	return 0
}

func (p Progress) String() string {
	return fmt.Sprintf("done=%v remaining=%v", p.Done, p.Remaining)
}

// Deferrer is implemented by trackers that can hand their unclaimed work
// back to the runner to be resumed later.
type Deferrer interface {
	DeferRemainder(watermark mtime.Time) error
}

// DeferRemainder asks rt to give up its unclaimed work, stamping it with
// watermark.
func DeferRemainder(rt RTracker, watermark mtime.Time) error {
	d, ok := rt.(Deferrer)
	if !ok {
		return fmt.Errorf("tracker %T cannot defer work", rt)
	}
	return d.DeferRemainder(watermark)
}
