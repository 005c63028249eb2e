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

// Package typex contains the data types that carry execution concepts
// between user units and the execution core: windowed values, windows,
// panes, output wrappers, and marker types that identify parameter roles.
package typex

import (
	"context"
	"reflect"
	"time"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph/mtime"
)

var (
	EventTimeType          = reflect.TypeOf((*EventTime)(nil)).Elem()
	WindowType             = reflect.TypeOf((*Window)(nil)).Elem()
	PaneInfoType           = reflect.TypeOf((*PaneInfo)(nil)).Elem()
	KeyType                = reflect.TypeOf((*Key)(nil)).Elem()
	BundleFinalizationType = reflect.TypeOf((*BundleFinalization)(nil)).Elem()
	ContextType            = reflect.TypeOf((*context.Context)(nil)).Elem()
	ErrorType              = reflect.TypeOf((*error)(nil)).Elem()
)

// EventTime is a timestamp attached to an element.
type EventTime = mtime.Time

// Window represents a concrete Window.
type Window interface {
	// MaxTimestamp returns the inclusive upper bound of timestamps for values in this window.
	MaxTimestamp() EventTime

	// Equals returns true iff the windows are identical.
	Equals(o Window) bool
}

// Key marks a parameter that receives the key of a KV element. It is a
// distinct named type so that it is not confused with the element itself.
type Key any

// BundleFinalization allows registering callbacks that run once the runner
// has durably committed the output of the current bundle.
type BundleFinalization interface {
	// RegisterCallback registers cb to run on finalization, as long as the
	// bundle is finalized within d of the registration.
	RegisterCallback(d time.Duration, cb func() error)
}

// KV is the pair shape required for key extraction by keyed and stateful
// units.
type KV struct {
	Key   any
	Value any
}

// NewKV returns a KV of k and v.
func NewKV(k, v any) KV {
	return KV{Key: k, Value: v}
}
