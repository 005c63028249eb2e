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

package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a fault raised by the execution core.
type Kind int

const (
	KindUnknown Kind = iota
	// KindSignature is a structural misuse of parameter roles, detected when
	// a unit is constructed. Always fatal to the unit.
	KindSignature
	// KindBinding is a required side input or key-shaped value that is
	// missing or malformed at call time. Fatal to the current element only.
	KindBinding
	// KindSplitConflict is a multi-window element reaching a splittable
	// invocation that depends on its window.
	KindSplitConflict
	// KindEmission is a lifecycle method emitting output it may not emit.
	KindEmission
	// KindLookup is a reference to an unregistered output tag or timer.
	KindLookup
	// KindType is a value of the wrong type, such as a non-string tag.
	KindType
	// KindRuntime is a generic fault, including recovered panics.
	KindRuntime
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindSignature:     "signature error",
	KindBinding:       "binding error",
	KindSplitConflict: "split conflict",
	KindEmission:      "emission error",
	KindLookup:        "lookup error",
	KindType:          "type error",
	KindRuntime:       "runtime error",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return Kind(k).String() }

// Sentinels for use with errors.Is.
var (
	ErrSignature     error = kindSentinel(KindSignature)
	ErrBinding       error = kindSentinel(KindBinding)
	ErrSplitConflict error = kindSentinel(KindSplitConflict)
	ErrEmission      error = kindSentinel(KindEmission)
	ErrLookup        error = kindSentinel(KindLookup)
	ErrType          error = kindSentinel(KindType)
	ErrRuntime       error = kindSentinel(KindRuntime)
)

// KindErrorf returns a new error of the given kind.
func KindErrorf(k Kind, format string, args ...any) error {
	return &beamError{msg: fmt.Sprintf(format, args...), kind: k}
}

// WithKind returns err classified as k, keeping err as the cause.
func WithKind(err error, k Kind) error {
	if err == nil {
		return nil
	}
	return &beamError{cause: err, kind: k, top: getTop(err)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindUnknown.
func KindOf(err error) Kind {
	for err != nil {
		if be, ok := err.(*beamError); ok && be.kind != KindUnknown {
			return be.kind
		}
		err = errors.Unwrap(err)
	}
	return KindUnknown
}

// SignatureErrorf returns a KindSignature error.
func SignatureErrorf(format string, args ...any) error {
	return KindErrorf(KindSignature, format, args...)
}

// BindingErrorf returns a KindBinding error.
func BindingErrorf(format string, args ...any) error {
	return KindErrorf(KindBinding, format, args...)
}

// EmissionErrorf returns a KindEmission error.
func EmissionErrorf(format string, args ...any) error {
	return KindErrorf(KindEmission, format, args...)
}
