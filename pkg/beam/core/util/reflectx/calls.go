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

package reflectx

import (
	"context"
	"reflect"
)

// Specialized callers for the shapes simple units most commonly take.

func init() {
	RegisterFunc(reflect.TypeOf((*func(any) []any)(nil)).Elem(), func(name string, fn any) Func {
		return &callerAnyToSlice{name: name, fn: fn.(func(any) []any)}
	})
	RegisterFunc(reflect.TypeOf((*func(any) ([]any, error))(nil)).Elem(), func(name string, fn any) Func {
		return &callerAnyToSliceError{name: name, fn: fn.(func(any) ([]any, error))}
	})
	RegisterFunc(reflect.TypeOf((*func(context.Context, any) ([]any, error))(nil)).Elem(), func(name string, fn any) Func {
		return &callerCtxAnyToSliceError{name: name, fn: fn.(func(context.Context, any) ([]any, error))}
	})
}

type callerAnyToSlice struct {
	name string
	fn   func(any) []any
}

func (c *callerAnyToSlice) Name() string { return c.name }

func (c *callerAnyToSlice) Type() reflect.Type { return reflect.TypeOf(c.fn) }

func (c *callerAnyToSlice) Call(args []any) []any {
	return []any{c.fn(args[0])}
}

type callerAnyToSliceError struct {
	name string
	fn   func(any) ([]any, error)
}

func (c *callerAnyToSliceError) Name() string { return c.name }

func (c *callerAnyToSliceError) Type() reflect.Type { return reflect.TypeOf(c.fn) }

func (c *callerAnyToSliceError) Call(args []any) []any {
	out, err := c.fn(args[0])
	return []any{out, err}
}

type callerCtxAnyToSliceError struct {
	name string
	fn   func(context.Context, any) ([]any, error)
}

func (c *callerCtxAnyToSliceError) Name() string { return c.name }

func (c *callerCtxAnyToSliceError) Type() reflect.Type { return reflect.TypeOf(c.fn) }

func (c *callerCtxAnyToSliceError) Call(args []any) []any {
	ctx, _ := args[0].(context.Context)
	out, err := c.fn(ctx, args[1])
	return []any{out, err}
}
