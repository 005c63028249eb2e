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

// Package reflectx contains the reflection helpers used to call user units
// with bound arguments.
package reflectx

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
	"github.com/apache/beam-fnexec/pkg/beam/log"
)

// Func is an untyped function call interface. This indirection allows
// specialized callers to avoid reflection overhead for common shapes.
type Func interface {
	// Name returns the name of the function or method.
	Name() string
	// Type returns the function type.
	Type() reflect.Type
	// Call invokes the function with arguments, which must already be
	// assignable to the parameter types.
	Call(args []any) []any
}

var (
	callers   = make(map[string]func(name string, fn any) Func)
	callersMu sync.Mutex
)

// RegisterFunc registers a specialized caller factory for the given function
// type, such as "func(interface {}) []interface {}". The last registration
// for a type wins.
func RegisterFunc(t reflect.Type, maker func(name string, fn any) Func) {
	callersMu.Lock()
	defer callersMu.Unlock()

	key := t.String()
	if _, exists := callers[key]; exists {
		log.Warnf(context.Background(), "Func for %v already registered. Overwriting.", key)
	}
	callers[key] = maker
}

// MakeFunc returns a Func for fn, which must be a function value.
func MakeFunc(fn any) Func {
	v := reflect.ValueOf(fn)
	return MakeFuncValue(FunctionName(fn), v)
}

// MakeFuncValue returns a Func for the function or bound method v.
func MakeFuncValue(name string, v reflect.Value) Func {
	callersMu.Lock()
	maker, exists := callers[v.Type().String()]
	callersMu.Unlock()

	if exists && v.CanInterface() {
		return maker(name, v.Interface())
	}
	return &reflectFunc{name: name, fn: v}
}

// FunctionName returns the symbol name of a function value.
func FunctionName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Sprintf("%T", fn)
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return v.Type().String()
}

type reflectFunc struct {
	name string
	fn   reflect.Value
}

func (f *reflectFunc) Name() string { return f.name }

func (f *reflectFunc) Type() reflect.Type { return f.fn.Type() }

func (f *reflectFunc) Call(args []any) []any {
	return Interface(f.fn.Call(valuesFor(f.fn.Type(), args)))
}

// valuesFor converts args to reflect values. A nil argument becomes the zero
// value of its parameter type.
func valuesFor(t reflect.Type, args []any) []reflect.Value {
	ret := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			ret[i] = reflect.Zero(t.In(i))
			continue
		}
		ret[i] = reflect.ValueOf(a)
	}
	return ret
}

// Interface performs a per-element Interface call.
func Interface(list []reflect.Value) []any {
	ret := make([]any, len(list))
	for i, v := range list {
		ret[i] = v.Interface()
	}
	return ret
}

// CheckArgs verifies that args can be passed to fn, returning a binding
// error naming the first mismatched parameter.
func CheckArgs(fn Func, args []any) error {
	t := fn.Type()
	if len(args) != t.NumIn() {
		return errors.BindingErrorf("%v takes %d arguments, got %d", fn.Name(), t.NumIn(), len(args))
	}
	for i, a := range args {
		if a == nil {
			continue
		}
		if at := reflect.TypeOf(a); !at.AssignableTo(t.In(i)) {
			return errors.BindingErrorf("argument %d of %v: %v is not assignable to %v", i, fn.Name(), at, t.In(i))
		}
	}
	return nil
}

// CallNoPanic calls fn with args and converts a panic into a runtime error
// carrying the panic value and stack.
func CallNoPanic(fn Func, args []any) (ret []any, err error) {
	defer RecoverPanic(&err)
	if err := CheckArgs(fn, args); err != nil {
		return nil, err
	}
	return fn.Call(args), nil
}

// RecoverPanic converts a panic in progress into a runtime error stored in
// *err. It must be deferred directly, as in defer RecoverPanic(&err).
func RecoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = errors.KindErrorf(errors.KindRuntime, "panic: %v %s", r, debug.Stack())
	}
}
