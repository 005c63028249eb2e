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

package window

import (
	"fmt"
	"time"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph/mtime"
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
)

// Kind is the semantic type of a window fn.
type Kind string

const (
	GlobalWindows  Kind = "GLO"
	FixedWindows   Kind = "FIX"
	SlidingWindows Kind = "SLI"
	Sessions       Kind = "SES"
)

// NewGlobalWindows returns the default window fn, which places all elements
// into a single window.
func NewGlobalWindows() *Fn {
	return &Fn{Kind: GlobalWindows}
}

// NewFixedWindows returns the fixed window fn with the given interval.
func NewFixedWindows(interval time.Duration) *Fn {
	return &Fn{Kind: FixedWindows, Size: interval}
}

// NewSlidingWindows returns the sliding window fn with the given period and duration.
func NewSlidingWindows(period, duration time.Duration) *Fn {
	return &Fn{Kind: SlidingWindows, Period: period, Size: duration}
}

// NewSessions returns the session window fn with the given gap.
func NewSessions(gap time.Duration) *Fn {
	return &Fn{Kind: Sessions, Gap: gap}
}

// Fn is a window function. It assigns windows only; merging of session
// windows happens downstream of the execution core.
type Fn struct {
	Kind Kind

	Size   time.Duration // FixedWindows, SlidingWindows
	Period time.Duration // SlidingWindows
	Gap    time.Duration // Sessions
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "", "global", string(GlobalWindows):
		return GlobalWindows, nil
	case "fixed", string(FixedWindows):
		return FixedWindows, nil
	case "sliding", string(SlidingWindows):
		return SlidingWindows, nil
	case "sessions", string(Sessions):
		return Sessions, nil
	}
	return "", fmt.Errorf("unknown window kind %q", name)
}

// AssignWindows returns the windows an element with timestamp ts belongs
// to. The element value is unused by the built-in kinds.
func (w *Fn) AssignWindows(ts typex.EventTime, _ any) []typex.Window {
	switch w.Kind {
	case GlobalWindows, "":
		return SingleGlobalWindow

	case FixedWindows:
		start := ts - floorMod(ts, w.Size)
		end := mtime.Min(start.Add(w.Size), mtime.EndOfGlobalWindowTime.Add(time.Millisecond))
		return []typex.Window{IntervalWindow{Start: start, End: end}}

	case SlidingWindows:
		var ret []typex.Window
		period := typex.EventTime(w.Period.Milliseconds())
		lastStart := ts - floorMod(ts, w.Period)
		for start := lastStart; start > ts.Subtract(w.Size); start -= period {
			ret = append(ret, IntervalWindow{Start: start, End: start.Add(w.Size)})
		}
		return ret

	case Sessions:
		// Proto-session; merged with its neighbours downstream.
		return []typex.Window{IntervalWindow{Start: ts, End: ts.Add(w.Gap)}}

	default:
		panic(fmt.Sprintf("unexpected window fn: %v", w))
	}
}

// floorMod returns ts mod d in [0, d), also for timestamps before the epoch.
func floorMod(ts typex.EventTime, d time.Duration) typex.EventTime {
	m := typex.EventTime(d.Milliseconds())
	r := ts % m
	if r < 0 {
		r += m
	}
	return r
}

func (w *Fn) String() string {
	switch w.Kind {
	case FixedWindows:
		return fmt.Sprintf("%v[%v]", w.Kind, w.Size)
	case SlidingWindows:
		return fmt.Sprintf("%v[%v@%v]", w.Kind, w.Size, w.Period)
	case Sessions:
		return fmt.Sprintf("%v[%v]", w.Kind, w.Gap)
	default:
		return string(w.Kind)
	}
}
