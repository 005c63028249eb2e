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

// Package funcx classifies the parameters and returns of user unit methods
// into the roles the execution core binds at call time.
package funcx

import (
	"fmt"
	"reflect"

	"github.com/apache/beam-fnexec/pkg/beam/core/sdf"
	"github.com/apache/beam-fnexec/pkg/beam/core/state"
	"github.com/apache/beam-fnexec/pkg/beam/core/timers"
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	"github.com/apache/beam-fnexec/pkg/beam/core/util/reflectx"
	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
)

// ParamRole is the semantic role of a single user method parameter. Roles
// are decided by parameter type when a unit is constructed; binding is a
// switch over the role afterwards.
type ParamRole int

const (
	// RoleIllegal is never produced for a valid parameter.
	RoleIllegal ParamRole = iota
	// RoleContext is a context.Context carrying the invocation context.
	RoleContext
	// RoleElement is the element value: the first plain value parameter.
	RoleElement
	// RoleValue is any later plain value parameter, filled from static
	// arguments or side inputs.
	RoleValue
	// RoleWindow is a parameter implementing typex.Window.
	RoleWindow
	// RoleTimestamp is a typex.EventTime.
	RoleTimestamp
	// RoleKey is a typex.Key, the key of a KV element.
	RoleKey
	// RolePane is a typex.PaneInfo.
	RolePane
	// RoleState is a state.Provider.
	RoleState
	// RoleTimer is a timers.Provider.
	RoleTimer
	// RoleRestriction is an sdf.RTracker.
	RoleRestriction
	// RoleWatermarkEstimator is a type implementing sdf.WatermarkEstimator.
	RoleWatermarkEstimator
	// RoleBundleFinalizer is a typex.BundleFinalization.
	RoleBundleFinalizer
	// RoleSideInput only appears in invocation plans: a RoleValue slot
	// filled from a side input.
	RoleSideInput
)

var roleNames = map[ParamRole]string{
	RoleIllegal:            "Illegal",
	RoleContext:            "Context",
	RoleElement:            "Element",
	RoleValue:              "Value",
	RoleWindow:             "Window",
	RoleTimestamp:          "Timestamp",
	RoleKey:                "Key",
	RolePane:               "Pane",
	RoleState:              "State",
	RoleTimer:              "Timer",
	RoleRestriction:        "Restriction",
	RoleWatermarkEstimator: "WatermarkEstimator",
	RoleBundleFinalizer:    "BundleFinalizer",
	RoleSideInput:          "SideInput",
}

func (r ParamRole) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("ParamRole(%d)", int(r))
}

// IsProcessOnly reports whether the role may only appear in the process
// method or timer callbacks, never in the bundle or lifecycle methods.
func (r ParamRole) IsProcessOnly() bool {
	return r != RoleContext && r != RoleIllegal
}

// Param is a single classified parameter.
type Param struct {
	Role ParamRole
	T    reflect.Type
}

// ReturnKind represents the kinds of return values a user method may provide.
type ReturnKind int

const (
	RetIllegal ReturnKind = iota
	// RetOutputs is a slice or an iter.Seq; each element is one output.
	RetOutputs
	// RetValue is a single non-collection output.
	RetValue
	// RetError is a trailing error.
	RetError
)

func (k ReturnKind) String() string {
	switch k {
	case RetOutputs:
		return "Outputs"
	case RetValue:
		return "Value"
	case RetError:
		return "Error"
	default:
		return fmt.Sprintf("ReturnKind(%d)", int(k))
	}
}

// ReturnParam captures the kind and type of a single return value.
type ReturnParam struct {
	Kind ReturnKind
	T    reflect.Type
}

// Fn is a classified user function or bound method.
type Fn struct {
	Fn reflectx.Func

	Param []Param
	Ret   []ReturnParam
}

// New classifies fn. It fails if a parameter or return type has no role or
// the returns are not of the form (outputs?, error?).
func New(fn reflectx.Func) (*Fn, error) {
	t := fn.Type()
	var params []Param
	sawElement := false
	for i := 0; i < t.NumIn(); i++ {
		pt := t.In(i)
		role := classify(pt)
		if role == RoleElement {
			if sawElement {
				role = RoleValue
			}
			sawElement = true
		}
		params = append(params, Param{Role: role, T: pt})
	}

	var ret []ReturnParam
	for i := 0; i < t.NumOut(); i++ {
		rt := t.Out(i)
		kind := RetValue
		switch {
		case rt == typex.ErrorType:
			kind = RetError
		case isOutputs(rt):
			kind = RetOutputs
		}
		ret = append(ret, ReturnParam{Kind: kind, T: rt})
	}
	u := &Fn{Fn: fn, Param: params, Ret: ret}
	if err := validateReturns(u); err != nil {
		return nil, err
	}
	return u, nil
}

func classify(t reflect.Type) ParamRole {
	switch {
	case t == typex.ContextType:
		return RoleContext
	case t == typex.EventTimeType:
		return RoleTimestamp
	case t == typex.PaneInfoType:
		return RolePane
	case t == typex.KeyType:
		return RoleKey
	case t == state.ProviderType:
		return RoleState
	case t == timers.ProviderType:
		return RoleTimer
	case t == sdf.RTrackerType:
		return RoleRestriction
	case t == typex.BundleFinalizationType:
		return RoleBundleFinalizer
	case t.Kind() != reflect.Interface && t.Implements(sdf.WatermarkEstimatorType):
		return RoleWatermarkEstimator
	case t == sdf.WatermarkEstimatorType:
		return RoleWatermarkEstimator
	case t == typex.WindowType || (t.Kind() != reflect.Interface && t.Implements(typex.WindowType)):
		return RoleWindow
	}
	return RoleElement
}

// isOutputs is true for slices other than []byte and for single-value
// iterator functions such as iter.Seq[T].
func isOutputs(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice:
		return t.Elem().Kind() != reflect.Uint8
	case reflect.Func:
		return t.NumIn() == 1 && t.NumOut() == 0 && t.CanSeq()
	}
	return false
}

func validateReturns(u *Fn) error {
	for i, r := range u.Ret {
		switch {
		case r.Kind == RetError && i != len(u.Ret)-1:
			return errors.SignatureErrorf("%v: error must be the last return value", u.Fn.Name())
		case r.Kind != RetError && i > 0:
			return errors.SignatureErrorf("%v: at most one output return value is allowed, got %v", u.Fn.Name(), u.Fn.Type())
		}
	}
	return nil
}

// Role returns (index, true) iff the function has a parameter of the role.
func (u *Fn) Role(r ParamRole) (pos int, exists bool) {
	for i, p := range u.Param {
		if p.Role == r {
			return i, true
		}
	}
	return -1, false
}

// Params returns the parameter indices of the given role.
func (u *Fn) Params(r ParamRole) []int {
	var ret []int
	for i, p := range u.Param {
		if p.Role == r {
			ret = append(ret, i)
		}
	}
	return ret
}

// Roles returns the role of every parameter, in order.
func (u *Fn) Roles() []ParamRole {
	ret := make([]ParamRole, len(u.Param))
	for i, p := range u.Param {
		ret[i] = p.Role
	}
	return ret
}

// Error returns (index, true) iff the function returns an error.
func (u *Fn) Error() (pos int, exists bool) {
	for i, r := range u.Ret {
		if r.Kind == RetError {
			return i, true
		}
	}
	return -1, false
}

// Outputs returns (index, kind, true) iff the function returns outputs.
func (u *Fn) Outputs() (pos int, kind ReturnKind, exists bool) {
	for i, r := range u.Ret {
		if r.Kind != RetError {
			return i, r.Kind, true
		}
	}
	return -1, RetIllegal, false
}

// Name returns the name of the function.
func (u *Fn) Name() string {
	return u.Fn.Name()
}

func (u *Fn) String() string {
	return fmt.Sprintf("{Fn:{Name:%v Type:%v} Param:%v Ret:%v}", u.Fn.Name(), u.Fn.Type(), u.Roles(), u.Ret)
}
