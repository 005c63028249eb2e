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

package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/beam-fnexec/pkg/beam/core/funcx"
	"github.com/apache/beam-fnexec/pkg/beam/core/sdf"
	"github.com/apache/beam-fnexec/pkg/beam/core/state"
	"github.com/apache/beam-fnexec/pkg/beam/core/timers"
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	beamerrors "github.com/apache/beam-fnexec/pkg/beam/internal/errors"
	"github.com/apache/beam-fnexec/pkg/beam/io/rtrackers/offsetrange"
	"github.com/google/go-cmp/cmp"
)

type lifecycleFn struct{}

func (f *lifecycleFn) Setup(context.Context) error { return nil }

func (f *lifecycleFn) StartBundle(context.Context) {}

func (f *lifecycleFn) ProcessElement(ctx context.Context, w typex.Window, ts typex.EventTime, x int) []int {
	return []int{x}
}

func (f *lifecycleFn) FinishBundle(context.Context) ([]typex.WindowedValue, error) { return nil, nil }

func (f *lifecycleFn) Teardown() error { return nil }

type rangeFn struct{}

func (f *rangeFn) CreateInitialRestriction(elm any) any {
	return offsetrange.Restriction{Start: 0, End: elm.(int64)}
}

func (f *rangeFn) CreateTracker(rest any) sdf.RTracker {
	return offsetrange.NewTracker(rest.(offsetrange.Restriction))
}

func (f *rangeFn) RestrictionSize(_, rest any) float64 { return rest.(offsetrange.Restriction).Size() }

func (f *rangeFn) SplitRestriction(_, rest any) []any { return []any{rest} }

func (f *rangeFn) ProcessElement(rt sdf.RTracker, n int64) []int64 {
	return nil
}

type estimatingFn struct{ rangeFn }

func (f *estimatingFn) CreateWatermarkEstimator() sdf.WatermarkEstimator {
	return sdf.NewManualWatermarkEstimator(0)
}

func (f *estimatingFn) ProcessElement(rt sdf.RTracker, we *sdf.ManualWatermarkEstimator, n int64) []int64 {
	return nil
}

type statefulFn struct {
	Count  state.Value[int]
	Expiry timers.EventTime
}

func (f *statefulFn) ProcessElement(k typex.Key, kv typex.KV, sp state.Provider, tp timers.Provider) {}

func (f *statefulFn) OnTimer(ctx context.Context, k typex.Key, sp state.Provider) []string {
	return nil
}

func TestNewDoFn(t *testing.T) {
	tests := []struct {
		name       string
		fn         any
		splittable bool
		stateful   bool
		signature  map[string][]funcx.ParamRole
	}{
		{
			name:      "function",
			fn:        func(x int) []int { return []int{x} },
			signature: map[string][]funcx.ParamRole{"ProcessElement": {funcx.RoleElement}},
		},
		{
			name: "lifecycle",
			fn:   &lifecycleFn{},
			signature: map[string][]funcx.ParamRole{
				"Setup":          {funcx.RoleContext},
				"StartBundle":    {funcx.RoleContext},
				"ProcessElement": {funcx.RoleContext, funcx.RoleWindow, funcx.RoleTimestamp, funcx.RoleElement},
				"FinishBundle":   {funcx.RoleContext},
				"Teardown":       {},
			},
		},
		{
			name:       "splittable",
			fn:         &rangeFn{},
			splittable: true,
			signature:  map[string][]funcx.ParamRole{"ProcessElement": {funcx.RoleRestriction, funcx.RoleElement}},
		},
		{
			name:       "estimating",
			fn:         &estimatingFn{},
			splittable: true,
			signature: map[string][]funcx.ParamRole{
				"ProcessElement": {funcx.RoleRestriction, funcx.RoleWatermarkEstimator, funcx.RoleElement},
			},
		},
		{
			name:     "stateful",
			fn:       &statefulFn{},
			stateful: true,
			signature: map[string][]funcx.ParamRole{
				"ProcessElement":  {funcx.RoleKey, funcx.RoleElement, funcx.RoleState, funcx.RoleTimer},
				"OnTimer[Expiry]": {funcx.RoleContext, funcx.RoleKey, funcx.RoleState},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d, err := NewDoFn(test.fn)
			if err != nil {
				t.Fatalf("NewDoFn() error = %v", err)
			}
			if got := d.IsSplittable(); got != test.splittable {
				t.Errorf("IsSplittable() = %v, want %v", got, test.splittable)
			}
			if got := d.IsStateful(); got != test.stateful {
				t.Errorf("IsStateful() = %v, want %v", got, test.stateful)
			}
			if diff := cmp.Diff(test.signature, d.Signature()); diff != "" {
				t.Errorf("Signature() diff (-want,+got):\n%v", diff)
			}
		})
	}
}

func TestNewDoFn_Idempotent(t *testing.T) {
	for _, fn := range []any{&lifecycleFn{}, &rangeFn{}, &statefulFn{}} {
		a, err := NewDoFn(fn)
		if err != nil {
			t.Fatal(err)
		}
		b, err := NewDoFn(fn)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(a.Signature(), b.Signature()); diff != "" {
			t.Errorf("second construction of %v differs (-first,+second):\n%v", a, diff)
		}
	}
}

func TestNewDoFn_NamesSpecsAfterFields(t *testing.T) {
	d, err := NewDoFn(&statefulFn{})
	if err != nil {
		t.Fatal(err)
	}
	if got := d.StateSpecs()[0].StateKey(); got != "Count" {
		t.Errorf("state key = %q, want Count", got)
	}
	if _, ok := d.TimerSpec("Expiry"); !ok {
		t.Errorf("TimerSpec(Expiry) not found in %v", d.TimerSpecs())
	}
	if _, ok := d.TimerCallback("Expiry"); !ok {
		t.Error("TimerCallback(Expiry) not found")
	}
}

type badStartFn struct{}

func (f *badStartFn) StartBundle(w typex.Window) {}

func (f *badStartFn) ProcessElement(x int) {}

type badSetupFn struct{}

func (f *badSetupFn) Setup() []int { return nil }

func (f *badSetupFn) ProcessElement(x int) {}

type unsplittableEstimatorFn struct{}

func (f *unsplittableEstimatorFn) CreateWatermarkEstimator() sdf.WatermarkEstimator {
	return sdf.NewManualWatermarkEstimator(0)
}

func (f *unsplittableEstimatorFn) ProcessElement(we *sdf.ManualWatermarkEstimator, x int) {}

type noProviderEstimatorFn struct{ rangeFn }

func (f *noProviderEstimatorFn) ProcessElement(rt sdf.RTracker, we *sdf.ManualWatermarkEstimator, x int64) {}

type missingCallbackFn struct {
	Flush timers.ProcessingTime
}

func (f *missingCallbackFn) ProcessElement(tp timers.Provider, x int) {}

type badCallbackFn struct {
	Flush timers.ProcessingTime
}

func (f *badCallbackFn) ProcessElement(x int) {}

func (f *badCallbackFn) OnTimer(ts typex.EventTime, x int) {}

type dupStateFn struct {
	A, B state.Value[int]
}

func (f *dupStateFn) ProcessElement(sp state.Provider, x int) {}

type noProcessFn struct{}

func (f *noProcessFn) Setup() {}

func TestNewDoFn_SignatureErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   any
	}{
		{"nil", nil},
		{"not a function", 5},
		{"pointer to non-struct", new(int)},
		{"no process method", &noProcessFn{}},
		{"duplicate role", func(w1, w2 typex.Window, x int) {}},
		{"process role in start bundle", &badStartFn{}},
		{"setup with outputs", &badSetupFn{}},
		{"restriction without provider", func(rt sdf.RTracker, x int) {}},
		{"estimator without provider", &noProviderEstimatorFn{}},
		{"estimator without restriction", &unsplittableEstimatorFn{}},
		{"state without specs", func(sp state.Provider, x int) {}},
		{"timer without specs", func(tp timers.Provider, x int) {}},
		{"missing timer callback", &missingCallbackFn{Flush: timers.ProcessingTime{Callback: "OnFlush"}}},
		{"element in timer callback", &badCallbackFn{}},
		{"duplicate state key", &dupStateFn{A: state.MakeValueState[int]("k"), B: state.MakeValueState[int]("k")}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewDoFn(test.fn)
			if !errors.Is(err, beamerrors.ErrSignature) {
				t.Errorf("NewDoFn() error = %v, want a signature error", err)
			}
		})
	}
}
