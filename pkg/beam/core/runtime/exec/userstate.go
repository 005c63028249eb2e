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
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/apache/beam-fnexec/pkg/beam/core/state"
	"github.com/apache/beam-fnexec/pkg/beam/core/timers"
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
)

// UserStateContext is the storage backend for user state and timers. Cells
// are scoped to (spec, key, window).
type UserStateContext interface {
	GetState(spec state.Spec, key any, w typex.Window) (state.Handle, error)
	GetTimer(spec timers.Spec, key any, w typex.Window) (timers.Handle, error)
}

// stateProvider is the state.Provider bound into a single invocation.
// Handles are fetched lazily on first use.
type stateProvider struct {
	usc      UserStateContext
	declared map[string]state.Spec
	key      any
	w        typex.Window

	handles map[string]state.Handle
}

func (p *stateProvider) Handle(s state.Spec) (state.Handle, error) {
	if h, ok := p.handles[s.StateKey()]; ok {
		return h, nil
	}
	if _, ok := p.declared[s.StateKey()]; !ok {
		return nil, errors.KindErrorf(errors.KindLookup, "state %q is not declared", s.StateKey())
	}
	h, err := p.usc.GetState(s, p.key, p.w)
	if err != nil {
		return nil, err
	}
	if p.handles == nil {
		p.handles = make(map[string]state.Handle)
	}
	p.handles[s.StateKey()] = h
	return h, nil
}

// timerProvider is the timers.Provider bound into a single invocation.
// Provider.Set has no error return, so the first failure is kept and
// reported once the user method returns.
type timerProvider struct {
	usc      UserStateContext
	declared map[string]timers.Spec
	key      any
	w        typex.Window

	handles map[string]timers.Handle
	err     error
}

func (p *timerProvider) Set(t timers.TimerMap) {
	if p.err != nil {
		return
	}
	h, ok := p.handles[t.Family]
	if !ok {
		spec, declared := p.declared[t.Family]
		if !declared {
			p.err = errors.KindErrorf(errors.KindLookup, "timer family %q is not declared", t.Family)
			return
		}
		var err error
		if h, err = p.usc.GetTimer(spec, p.key, p.w); err != nil {
			p.err = err
			return
		}
		if p.handles == nil {
			p.handles = make(map[string]timers.Handle)
		}
		p.handles[t.Family] = h
	}
	if err := h.Set(t); err != nil {
		p.err = err
	}
}

// TimerRecord is a timer pending in an InMemoryUserState.
type TimerRecord struct {
	Key    any
	Window typex.Window
	Timer  timers.TimerMap
}

// InMemoryUserState is a UserStateContext backed by process memory. It is
// safe for concurrent use. Keys and windows must be comparable.
type InMemoryUserState struct {
	mu     sync.Mutex
	cells  map[cellID][]any
	timers map[timerID]TimerRecord
}

type cellID struct {
	state string
	key   any
	w     typex.Window
}

type timerID struct {
	family, tag string
	key         any
	w           typex.Window
}

// NewInMemoryUserState returns an empty InMemoryUserState.
func NewInMemoryUserState() *InMemoryUserState {
	return &InMemoryUserState{
		cells:  make(map[cellID][]any),
		timers: make(map[timerID]TimerRecord),
	}
}

func (s *InMemoryUserState) GetState(spec state.Spec, key any, w typex.Window) (state.Handle, error) {
	if err := checkComparable(key, w); err != nil {
		return nil, err
	}
	return &memCell{store: s, id: cellID{state: spec.StateKey(), key: key, w: w}}, nil
}

func (s *InMemoryUserState) GetTimer(spec timers.Spec, key any, w typex.Window) (timers.Handle, error) {
	if err := checkComparable(key, w); err != nil {
		return nil, err
	}
	return &memTimer{store: s, key: key, w: w}, nil
}

func checkComparable(key any, w typex.Window) error {
	for _, v := range []any{key, w} {
		if v != nil && !reflect.TypeOf(v).Comparable() {
			return errors.BindingErrorf("in-memory user state needs comparable keys and windows, got %T", v)
		}
	}
	return nil
}

// Pending returns the timers set and not cleared, ordered by firing time,
// family, tag and key.
func (s *InMemoryUserState) Pending() []TimerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := make([]TimerRecord, 0, len(s.timers))
	for _, t := range s.timers {
		ret = append(ret, t)
	}
	sort.Slice(ret, func(i, j int) bool {
		a, b := ret[i].Timer, ret[j].Timer
		if a.FireTimestamp != b.FireTimestamp {
			return a.FireTimestamp < b.FireTimestamp
		}
		if a.Family != b.Family {
			return a.Family < b.Family
		}
		if a.Tag != b.Tag {
			return a.Tag < b.Tag
		}
		return fmt.Sprint(ret[i].Key) < fmt.Sprint(ret[j].Key)
	})
	return ret
}

type memCell struct {
	store *InMemoryUserState
	id    cellID
}

func (c *memCell) Read() ([]any, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return append([]any(nil), c.store.cells[c.id]...), nil
}

func (c *memCell) Add(v any) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.cells[c.id] = append(c.store.cells[c.id], v)
	return nil
}

func (c *memCell) Clear() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	delete(c.store.cells, c.id)
	return nil
}

type memTimer struct {
	store *InMemoryUserState
	key   any
	w     typex.Window
}

func (t *memTimer) Set(tm timers.TimerMap) error {
	id := timerID{family: tm.Family, tag: tm.Tag, key: t.key, w: t.w}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if tm.Clear {
		delete(t.store.timers, id)
		return nil
	}
	t.store.timers[id] = TimerRecord{Key: t.key, Window: t.w, Timer: tm}
	return nil
}
