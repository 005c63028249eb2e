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
	"sync/atomic"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph/mtime"
)

// ManualWatermarkEstimator is advanced explicitly by the unit through
// UpdateWatermark. Reset returns it to its initial watermark.
type ManualWatermarkEstimator struct {
	initial mtime.Time
	wm      atomic.Int64
}

// NewManualWatermarkEstimator returns an estimator starting at initial.
func NewManualWatermarkEstimator(initial mtime.Time) *ManualWatermarkEstimator {
	e := &ManualWatermarkEstimator{initial: initial}
	e.wm.Store(int64(initial))
	return e
}

// CurrentWatermark returns the last value set.
func (e *ManualWatermarkEstimator) CurrentWatermark() mtime.Time {
	return mtime.Time(e.wm.Load())
}

// UpdateWatermark sets the watermark. It may be called from the processing
// goroutine while a split request reads it.
func (e *ManualWatermarkEstimator) UpdateWatermark(t mtime.Time) {
	e.wm.Store(int64(mtime.Normalize(t)))
}

// Reset returns the estimator to its initial watermark.
func (e *ManualWatermarkEstimator) Reset() {
	e.wm.Store(int64(e.initial))
}

// WallTimeWatermarkEstimator reports the current wall time, never moving
// backwards.
type WallTimeWatermarkEstimator struct {
	last atomic.Int64
	now  func() mtime.Time
}

// NewWallTimeWatermarkEstimator returns an estimator backed by mtime.Now.
func NewWallTimeWatermarkEstimator() *WallTimeWatermarkEstimator {
	e := &WallTimeWatermarkEstimator{now: mtime.Now}
	e.last.Store(int64(mtime.MinTimestamp))
	return e
}

// CurrentWatermark returns max(previous, now).
func (e *WallTimeWatermarkEstimator) CurrentWatermark() mtime.Time {
	now := int64(e.now())
	for {
		prev := e.last.Load()
		if now <= prev {
			return mtime.Time(prev)
		}
		if e.last.CompareAndSwap(prev, now) {
			return mtime.Time(now)
		}
	}
}

// Reset is a no-op: wall time is not element specific.
func (e *WallTimeWatermarkEstimator) Reset() {}
