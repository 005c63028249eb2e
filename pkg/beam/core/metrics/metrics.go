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

// Package metrics implements counters and distributions scoped to the step
// that updates them. Cells are found through the context, so updates from
// contexts without a store are dropped.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type ctxKey struct{}

type scope struct {
	store *Store
	step  string
}

// WithStore returns a context whose metric updates go to store under step.
func WithStore(ctx context.Context, store *Store, step string) context.Context {
	return context.WithValue(ctx, ctxKey{}, &scope{store: store, step: step})
}

// GetStore extracts the Store of ctx, or nil.
func GetStore(ctx context.Context) *Store {
	if s, ok := ctx.Value(ctxKey{}).(*scope); ok {
		return s.store
	}
	return nil
}

func getScope(ctx context.Context) *scope {
	s, _ := ctx.Value(ctxKey{}).(*scope)
	return s
}

type kind uint8

const (
	kindCounter kind = iota
	kindDistribution
)

func (k kind) String() string {
	if k == kindDistribution {
		return "Distribution"
	}
	return "Counter"
}

type name struct {
	namespace, name string
}

func (n name) String() string {
	return fmt.Sprintf("%s.%s", n.namespace, n.name)
}

type key struct {
	step string
	name name
}

// Counter is a simple counter for incrementing and decrementing a value.
type Counter struct {
	name name
}

// NewCounter returns the Counter with the given namespace and name.
func NewCounter(ns, n string) *Counter {
	return &Counter{name: name{ns, n}}
}

func (m *Counter) String() string {
	return fmt.Sprintf("Counter metric %s", m.name)
}

// Inc increments the counter within the step of ctx by v.
func (m *Counter) Inc(ctx context.Context, v int64) {
	s := getScope(ctx)
	if s == nil {
		return
	}
	s.store.counter(key{s.step, m.name}).add(v)
}

// Dec decrements the counter within the step of ctx by v.
func (m *Counter) Dec(ctx context.Context, v int64) {
	m.Inc(ctx, -v)
}

// Distribution is a simple distribution of values.
type Distribution struct {
	name name
}

// NewDistribution returns the Distribution with the given namespace and name.
func NewDistribution(ns, n string) *Distribution {
	return &Distribution{name: name{ns, n}}
}

func (m *Distribution) String() string {
	return fmt.Sprintf("Distribution metric %s", m.name)
}

// Update updates the distribution within the step of ctx with v.
func (m *Distribution) Update(ctx context.Context, v int64) {
	s := getScope(ctx)
	if s == nil {
		return
	}
	s.store.distribution(key{s.step, m.name}).update(v)
}

type counter struct {
	mu  sync.Mutex
	val int64
}

func (c *counter) add(v int64) {
	c.mu.Lock()
	c.val += v
	c.mu.Unlock()
}

// distribution is a metric cell for distribution values.
type distribution struct {
	mu                   sync.Mutex
	count, sum, min, max int64
}

func (d *distribution) update(v int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count == 0 || v < d.min {
		d.min = v
	}
	if d.count == 0 || v > d.max {
		d.max = v
	}
	d.count++
	d.sum += v
}

// DistributionValue is the committed state of a distribution.
type DistributionValue struct {
	Count, Sum, Min, Max int64
}

// Result is the value of one metric cell.
type Result struct {
	Step, Namespace, Name string
	Counter               int64
	Distribution          DistributionValue
	IsDistribution        bool
}

func (r Result) String() string {
	if r.IsDistribution {
		d := r.Distribution
		return fmt.Sprintf("%s/%s.%s count: %d sum: %d min: %d max: %d", r.Step, r.Namespace, r.Name, d.Count, d.Sum, d.Min, d.Max)
	}
	return fmt.Sprintf("%s/%s.%s %d", r.Step, r.Namespace, r.Name, r.Counter)
}

// Store holds the metric cells of one runner. It is safe for concurrent use.
type Store struct {
	mu            sync.Mutex
	counters      map[key]*counter
	distributions map[key]*distribution
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		counters:      make(map[key]*counter),
		distributions: make(map[key]*distribution),
	}
}

func (s *Store) counter(k key) *counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[k]
	if !ok {
		c = &counter{}
		s.counters[k] = c
	}
	return c
}

func (s *Store) distribution(k key) *distribution {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.distributions[k]
	if !ok {
		d = &distribution{}
		s.distributions[k] = d
	}
	return d
}

// Results returns every cell, ordered by step, kind and name.
func (s *Store) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ret []Result
	for k, c := range s.counters {
		c.mu.Lock()
		ret = append(ret, Result{Step: k.step, Namespace: k.name.namespace, Name: k.name.name, Counter: c.val})
		c.mu.Unlock()
	}
	for k, d := range s.distributions {
		d.mu.Lock()
		ret = append(ret, Result{
			Step: k.step, Namespace: k.name.namespace, Name: k.name.name,
			Distribution:   DistributionValue{Count: d.count, Sum: d.sum, Min: d.min, Max: d.max},
			IsDistribution: true,
		})
		d.mu.Unlock()
	}
	sort.Slice(ret, func(i, j int) bool {
		a, b := ret[i], ret[j]
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		if a.IsDistribution != b.IsDistribution {
			return !a.IsDistribution
		}
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.Name < b.Name
	})
	return ret
}
