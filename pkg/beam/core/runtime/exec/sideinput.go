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

package exec

import (
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
)

// SideInputMap gives access to a materialized side input, keyed by the
// window of the main input element.
type SideInputMap interface {
	Get(w typex.Window) (any, error)
	IsGloballyWindowed() bool
}

// SideInputArg marks the position of a side input among the static
// arguments of a DoFn. Markers take successive side inputs in order; a
// marker beyond the last side input is filled from the additional
// arguments of each call.
type SideInputArg struct{}

// GlobalSideInput is a globally windowed side input with a single value.
type GlobalSideInput struct {
	Value any
}

func (s GlobalSideInput) Get(typex.Window) (any, error) {
	return s.Value, nil
}

func (GlobalSideInput) IsGloballyWindowed() bool {
	return true
}

type windowedEntry struct {
	w typex.Window
	v any
}

// WindowedSideInput holds one side input value per window.
type WindowedSideInput struct {
	entries []windowedEntry
}

// Set records v as the value of the side input in window w.
func (s *WindowedSideInput) Set(w typex.Window, v any) *WindowedSideInput {
	for i, e := range s.entries {
		if e.w.Equals(w) {
			s.entries[i].v = v
			return s
		}
	}
	s.entries = append(s.entries, windowedEntry{w: w, v: v})
	return s
}

func (s *WindowedSideInput) Get(w typex.Window) (any, error) {
	for _, e := range s.entries {
		if e.w.Equals(w) {
			return e.v, nil
		}
	}
	return nil, errors.BindingErrorf("no side input value for window %v", w)
}

func (s *WindowedSideInput) IsGloballyWindowed() bool {
	return false
}
