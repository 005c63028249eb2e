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

// Package offsetrange defines a restriction and restriction tracker for offset
// ranges: half-open integer intervals such as byte ranges of a file or
// indices of a slice.
package offsetrange

import (
	"errors"
	"fmt"
	"math"

	"github.com/apache/beam-fnexec/pkg/beam/core/sdf"
)

// Restriction is the half-open interval [Start, End).
type Restriction struct {
	Start, End int64
}

// EvenSplits splits a restriction into at most num evenly sized, non-empty
// restrictions that together cover the original. A num of 1 or less
// returns the original restriction.
func (r Restriction) EvenSplits(num int64) (splits []Restriction) {
	if num <= 1 {
		return append(splits, r)
	}
	size := r.End - r.Start
	for i := int64(0); i < num; i++ {
		split := Restriction{
			Start: r.Start + i*size/num,
			End:   r.Start + (i+1)*size/num,
		}
		if split.End > split.Start {
			splits = append(splits, split)
		}
	}
	return splits
}

// Size returns End - Start.
func (r Restriction) Size() float64 {
	return float64(r.End - r.Start)
}

func (r Restriction) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Tracker tracks an offset range restriction. Positions are int64 offsets
// and must be claimed in strictly increasing order.
type Tracker struct {
	rest    Restriction
	claimed int64 // Last claimed position.
	stopped bool  // TryClaim has signalled to stop.
	err     error
}

var _ sdf.RTracker = (*Tracker)(nil)

// NewTracker returns a Tracker for rest.
func NewTracker(rest Restriction) *Tracker {
	return &Tracker{rest: rest, claimed: rest.Start - 1}
}

// TryClaim claims pos if it is inside the restriction and after the last
// claimed position. A position at or beyond the end stops the tracker
// without error; any other rejected claim stops it with an error.
func (t *Tracker) TryClaim(rawPos any) bool {
	if t.stopped {
		t.err = errors.New("cannot claim work after restriction tracker returns false")
		return false
	}
	pos, ok := rawPos.(int64)
	if !ok {
		t.stopped = true
		t.err = fmt.Errorf("offset range position must be int64, got %T", rawPos)
		return false
	}
	if pos < t.rest.Start {
		t.stopped = true
		t.err = fmt.Errorf("position %d claimed is before the start of %v", pos, t.rest)
		return false
	}
	if pos <= t.claimed {
		t.stopped = true
		t.err = fmt.Errorf("cannot claim position %d at or before the previously claimed %d", pos, t.claimed)
		return false
	}
	if pos >= t.rest.End {
		t.stopped = true
		return false
	}
	t.claimed = pos
	return true
}

// GetError returns the error that caused the tracker to stop, if there is one.
func (t *Tracker) GetError() error {
	return t.err
}

// TrySplit splits the unclaimed part of the range at the given fraction of
// it, rounding up. Fractions are clamped to [0, 1]. The primary keeps every
// claimed position.
func (t *Tracker) TrySplit(fraction float64) (primary, residual any, err error) {
	if t.stopped || t.IsDone() {
		return t.rest, nil, nil
	}
	fraction = math.Max(0, math.Min(1, fraction))

	next := t.claimed + 1
	splitPt := next + int64(math.Ceil(fraction*float64(t.rest.End-next)))
	if splitPt >= t.rest.End {
		return t.rest, nil, nil
	}
	res := Restriction{Start: splitPt, End: t.rest.End}
	t.rest.End = splitPt
	return t.rest, res, nil
}

// GetProgress reports the claimed and unclaimed sizes of the restriction.
func (t *Tracker) GetProgress() (done, remaining float64) {
	next := t.claimed + 1
	return float64(next - t.rest.Start), float64(max(t.rest.End-next, 0))
}

// IsDone returns true once every position of the restriction was claimed,
// or the restriction is empty.
func (t *Tracker) IsDone() bool {
	return t.err == nil && (t.claimed+1 >= t.rest.End || t.rest.Start >= t.rest.End)
}

// GetRestriction returns the current restriction.
func (t *Tracker) GetRestriction() any {
	return t.rest
}
