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

// Package state contains the per-key, per-window user state declarations
// that units embed as struct fields, and the Provider through which they
// are read and written during processing.
package state

import (
	"fmt"
	"reflect"
)

// TypeEnum is the kind of a state cell.
type TypeEnum int32

const (
	TypeValue TypeEnum = iota
	TypeBag
)

var (
	ProviderType = reflect.TypeOf((*Provider)(nil)).Elem()
	SpecType     = reflect.TypeOf((*Spec)(nil)).Elem()
)

// Spec is a state declaration. Units declare specs as exported struct
// fields; a unit with at least one spec is stateful.
type Spec interface {
	StateKey() string
	StateType() TypeEnum
}

// Handle is the storage for one state cell, already scoped to a key and a
// window. Every cell is stored as an ordered list of values.
type Handle interface {
	Read() ([]any, error)
	Add(v any) error
	Clear() error
}

// Provider is the unit parameter through which state is accessed. It is
// scoped to the key and window of the element being processed.
type Provider interface {
	Handle(s Spec) (Handle, error)
}

// Value is a state cell holding a single value.
type Value[T any] struct {
	Key string
}

// MakeValueState returns a Value cell with the given key.
func MakeValueState[T any](k string) Value[T] {
	return Value[T]{Key: k}
}

// StateKey returns the key for this cell.
func (s Value[T]) StateKey() string { return s.Key }

// StateType returns TypeValue.
func (s Value[T]) StateType() TypeEnum { return TypeValue }

// Read returns the stored value. When nothing is stored it returns the
// zero value and false.
func (s Value[T]) Read(p Provider) (T, bool, error) {
	var zero T
	h, err := p.Handle(s)
	if err != nil {
		return zero, false, err
	}
	vs, err := h.Read()
	if err != nil || len(vs) == 0 {
		return zero, false, err
	}
	v, ok := vs[len(vs)-1].(T)
	if !ok {
		return zero, false, fmt.Errorf("value state %q holds %T, not %T", s.Key, vs[len(vs)-1], zero)
	}
	return v, true, nil
}

// Write replaces the stored value.
func (s Value[T]) Write(p Provider, v T) error {
	h, err := p.Handle(s)
	if err != nil {
		return err
	}
	if err := h.Clear(); err != nil {
		return err
	}
	return h.Add(v)
}

// Clear removes the stored value.
func (s Value[T]) Clear(p Provider) error {
	h, err := p.Handle(s)
	if err != nil {
		return err
	}
	return h.Clear()
}

// Bag is a state cell holding an unordered collection of values.
type Bag[T any] struct {
	Key string
}

// MakeBagState returns a Bag cell with the given key.
func MakeBagState[T any](k string) Bag[T] {
	return Bag[T]{Key: k}
}

// StateKey returns the key for this cell.
func (s Bag[T]) StateKey() string { return s.Key }

// StateType returns TypeBag.
func (s Bag[T]) StateType() TypeEnum { return TypeBag }

// Read returns every value added to the bag.
func (s Bag[T]) Read(p Provider) ([]T, error) {
	h, err := p.Handle(s)
	if err != nil {
		return nil, err
	}
	vs, err := h.Read()
	if err != nil {
		return nil, err
	}
	ret := make([]T, 0, len(vs))
	for _, v := range vs {
		t, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("bag state %q holds %T, not %T", s.Key, v, *new(T))
		}
		ret = append(ret, t)
	}
	return ret, nil
}

// Add appends v to the bag.
func (s Bag[T]) Add(p Provider, v T) error {
	h, err := p.Handle(s)
	if err != nil {
		return err
	}
	return h.Add(v)
}

// Clear empties the bag.
func (s Bag[T]) Clear(p Provider) error {
	h, err := p.Handle(s)
	if err != nil {
		return err
	}
	return h.Clear()
}
