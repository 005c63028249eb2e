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

package typex

import (
	"fmt"
	"strings"
)

// PaneTiming describes when a pane fired relative to the watermark.
type PaneTiming byte

const (
	PaneEarly PaneTiming = iota
	PaneOnTime
	PaneLate
	PaneUnknown
)

// PaneInfo records which firing of a window produced an element.
type PaneInfo struct {
	Timing                     PaneTiming
	IsFirst, IsLast            bool
	Index, NonSpeculativeIndex int64
}

// NoFiringPane is the pane of an element that was not produced by a trigger
// firing.
func NoFiringPane() PaneInfo {
	return PaneInfo{Timing: PaneUnknown, IsFirst: true, IsLast: true}
}

// WindowedValue is an element together with its timestamp, the windows it
// belongs to and its pane. Values are treated as immutable: the helpers
// below never modify the receiver or its Windows slice.
type WindowedValue struct {
	Elm       any
	Timestamp EventTime
	Windows   []Window
	Pane      PaneInfo
}

// WithValue returns a copy of wv carrying v instead of wv.Elm.
func (wv WindowedValue) WithValue(v any) WindowedValue {
	wv.Elm = v
	return wv
}

// InWindow returns a copy of wv that belongs to w only.
func (wv WindowedValue) InWindow(w Window) WindowedValue {
	wv.Windows = []Window{w}
	return wv
}

// Explode returns one WindowedValue per window of wv, each sharing the
// element, timestamp and pane.
func (wv WindowedValue) Explode() []WindowedValue {
	ret := make([]WindowedValue, len(wv.Windows))
	for i, w := range wv.Windows {
		ret[i] = wv.InWindow(w)
	}
	return ret
}

func (wv WindowedValue) String() string {
	ws := make([]string, len(wv.Windows))
	for i, w := range wv.Windows {
		ws[i] = fmt.Sprint(w)
	}
	return fmt.Sprintf("%v@%v{%v}", wv.Elm, wv.Timestamp, strings.Join(ws, ","))
}
