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
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph/mtime"
	"github.com/apache/beam-fnexec/pkg/beam/core/graph/window"
	"github.com/apache/beam-fnexec/pkg/beam/core/metrics"
	"github.com/apache/beam-fnexec/pkg/beam/core/runtime"
	"github.com/apache/beam-fnexec/pkg/beam/core/state"
	"github.com/apache/beam-fnexec/pkg/beam/core/timers"
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	beamerrors "github.com/apache/beam-fnexec/pkg/beam/internal/errors"
	"github.com/apache/beam-fnexec/pkg/beam/io/rtrackers/offsetrange"
)

// counterFn counts elements per key and window, and reports the count when
// the window expires.
type counterFn struct {
	Count  state.Value[int]
	Expiry timers.EventTime
}

func (fn *counterFn) ProcessElement(w typex.Window, sp state.Provider, tp timers.Provider, kv typex.KV) (int, error) {
	n, _, err := fn.Count.Read(sp)
	if err != nil {
		return 0, err
	}
	n++
	if err := fn.Count.Write(sp, n); err != nil {
		return 0, err
	}
	fn.Expiry.Set(tp, w.MaxTimestamp().ToTime())
	return n, nil
}

func (fn *counterFn) OnTimer(k typex.Key, sp state.Provider) ([]string, error) {
	n, _, err := fn.Count.Read(sp)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("%v=%d", k, n)}, fn.Count.Clear(sp)
}

// lifecycleFn records the methods called on it.
type lifecycleFn struct {
	calls []string
	ic    InvocationContext
}

func (fn *lifecycleFn) Setup() { fn.calls = append(fn.calls, "Setup") }

func (fn *lifecycleFn) StartBundle(ctx context.Context) error {
	fn.calls = append(fn.calls, "StartBundle")
	fn.ic, _ = FromContext(ctx)
	if _, err := ElementFromContext(ctx); err == nil {
		return errors.New("element accessible in StartBundle")
	}
	return nil
}

func (fn *lifecycleFn) ProcessElement(x int) int {
	fn.calls = append(fn.calls, "ProcessElement")
	return x
}

func (fn *lifecycleFn) FinishBundle() []typex.WindowedValue {
	fn.calls = append(fn.calls, "FinishBundle")
	return []typex.WindowedValue{{Elm: "end", Timestamp: mtime.EndOfGlobalWindowTime, Windows: window.SingleGlobalWindow}}
}

func (fn *lifecycleFn) Teardown() error {
	fn.calls = append(fn.calls, "Teardown")
	return nil
}

type emittingStartFn struct{}

func (fn *emittingStartFn) StartBundle() []string { return []string{"early"} }

func (fn *emittingStartFn) ProcessElement(x int) int { return x }

func newTestRunner(t *testing.T, fn any, cfg RunnerConfig) (*DoFnRunner, *collector) {
	t.Helper()
	var main collector
	if cfg.Receivers.Main == nil {
		cfg.Receivers.Main = &main
	}
	if cfg.Step == "" {
		cfg.Step = "step"
	}
	r, err := NewDoFnRunner(fn, cfg)
	if err != nil {
		t.Fatalf("NewDoFnRunner() failed: %v", err)
	}
	return r, &main
}

func startBundle(t *testing.T, r *DoFnRunner) {
	t.Helper()
	ctx := context.Background()
	if err := r.Setup(ctx); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	if err := r.StartBundle(ctx); err != nil {
		t.Fatalf("StartBundle() failed: %v", err)
	}
}

func TestDoFnRunner_Lifecycle(t *testing.T) {
	fn := &lifecycleFn{}
	r, main := newTestRunner(t, fn, RunnerConfig{Step: "lifecycle"})
	ctx := context.Background()

	steps := []struct {
		name string
		run  func() error
		want Status
	}{
		{"Setup", func() error { return r.Setup(ctx) }, Up},
		{"StartBundle", func() error { return r.StartBundle(ctx) }, Active},
		{"Process", func() error { _, err := r.Process(ctx, inGlobal(1)); return err }, Active},
		{"FinishBundle", func() error { return r.FinishBundle(ctx) }, Up},
		{"Teardown", func() error { return r.Teardown(ctx) }, Down},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("%v failed: %v", step.name, err)
		}
		if got := r.Status(); got != step.want {
			t.Errorf("status after %v = %v, want %v", step.name, got, step.want)
		}
	}

	wantCalls := []string{"Setup", "StartBundle", "ProcessElement", "FinishBundle", "Teardown"}
	if diff := cmp.Diff(wantCalls, fn.calls); diff != "" {
		t.Errorf("calls diff (-want +got):\n%v", diff)
	}
	if diff := cmp.Diff([]any{1, "end"}, main.values()); diff != "" {
		t.Errorf("outputs diff (-want +got):\n%v", diff)
	}
	if fn.ic.Step != "lifecycle" || fn.ic.BundleID == "" || fn.ic.BundleID != r.BundleID() {
		t.Errorf("StartBundle saw invocation context %+v, want step lifecycle and bundle %v", fn.ic, r.BundleID())
	}
	if err := r.Teardown(ctx); err != nil {
		t.Errorf("second Teardown() failed: %v", err)
	}
}

func TestDoFnRunner_BundleIDs(t *testing.T) {
	r, _ := newTestRunner(t, &lifecycleFn{}, RunnerConfig{})
	startBundle(t, r)
	ctx := context.Background()
	first := r.BundleID()
	if err := r.FinishBundle(ctx); err != nil {
		t.Fatalf("FinishBundle() failed: %v", err)
	}
	if err := r.StartBundle(ctx); err != nil {
		t.Fatalf("StartBundle() failed: %v", err)
	}
	if second := r.BundleID(); second == first {
		t.Errorf("two bundles share the ID %v", first)
	}
}

func TestDoFnRunner_InvalidStatus(t *testing.T) {
	r, _ := newTestRunner(t, &lifecycleFn{}, RunnerConfig{})
	if _, err := r.Process(context.Background(), inGlobal(1)); err == nil {
		t.Error("Process() before StartBundle succeeded, want error")
	}
	if err := r.FinishBundle(context.Background()); err == nil {
		t.Error("FinishBundle() before StartBundle succeeded, want error")
	}
}

func TestDoFnRunner_StartBundleOutput(t *testing.T) {
	r, _ := newTestRunner(t, &emittingStartFn{}, RunnerConfig{Step: "emitter"})
	ctx := context.Background()
	if err := r.Setup(ctx); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	err := r.StartBundle(ctx)
	if !errors.Is(err, beamerrors.ErrEmission) {
		t.Fatalf("StartBundle() = %v, want an emission error", err)
	}
	var sf *StepFailure
	if !errors.As(err, &sf) || sf.Step != "emitter" {
		t.Errorf("StartBundle() = %v, want a failure of step emitter", err)
	}
	if r.Status() != Broken {
		t.Errorf("status = %v, want Broken", r.Status())
	}
	if _, err := r.Process(ctx, inGlobal(1)); err == nil {
		t.Error("Process() on a broken runner succeeded, want error")
	}
	if got := r.Teardown(ctx); !errors.Is(got, beamerrors.ErrEmission) {
		t.Errorf("Teardown() = %v, want the emission error", got)
	}
}

func TestDoFnRunner_Failures(t *testing.T) {
	userErr := errors.New("bad element")
	tests := []struct {
		name    string
		fn      any
		kind    error
		cause   error
		message string
		broken  bool
	}{
		{
			name:    "panic",
			fn:      func(x int) int { panic("boom") },
			kind:    beamerrors.ErrRuntime,
			message: "boom",
			broken:  true,
		},
		{
			name: "panic in output sequence",
			fn: func(x int) iter.Seq[int] {
				return func(yield func(int) bool) {
					yield(x)
					panic("boom in sequence")
				}
			},
			kind:    beamerrors.ErrRuntime,
			message: "boom in sequence",
			broken:  true,
		},
		{
			name:   "returned error",
			fn:     func(x int) (int, error) { return 0, userErr },
			kind:   beamerrors.ErrRuntime,
			cause:  userErr,
			broken: true,
		},
		{
			name:   "binding error",
			fn:     func(k typex.Key, x any) any { return k },
			kind:   beamerrors.ErrBinding,
			broken: false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r, _ := newTestRunner(t, test.fn, RunnerConfig{Step: "failing"})
			startBundle(t, r)
			_, err := r.Process(context.Background(), inGlobal(1))
			if !errors.Is(err, test.kind) {
				t.Fatalf("Process() = %v, want %v", err, test.kind)
			}
			if test.cause != nil && !errors.Is(err, test.cause) {
				t.Errorf("Process() = %v, want it to wrap %v", err, test.cause)
			}
			if !strings.Contains(err.Error(), test.message) || !strings.HasSuffix(err.Error(), "[while running 'failing']") {
				t.Errorf("Process() message = %q, want it to contain %q and name the step", err, test.message)
			}
			if got := r.Status() == Broken; got != test.broken {
				t.Errorf("runner broken = %v, want %v", got, test.broken)
			}
		})
	}
}

func TestDoFnRunner_StatefulRequiresUserState(t *testing.T) {
	_, err := NewDoFnRunner(&counterFn{}, RunnerConfig{Step: "count"})
	if !errors.Is(err, beamerrors.ErrSignature) {
		t.Errorf("NewDoFnRunner() = %v, want a signature error", err)
	}
	var sf *StepFailure
	if !errors.As(err, &sf) || sf.Step != "count" {
		t.Errorf("NewDoFnRunner() = %v, want a failure of step count", err)
	}
}

func TestDoFnRunner_StateAndTimers(t *testing.T) {
	w1, w2 := iw(0, 10), iw(10, 20)
	us := NewInMemoryUserState()
	r, main := newTestRunner(t, &counterFn{}, RunnerConfig{UserState: us})
	startBundle(t, r)
	ctx := context.Background()

	in := func(k string, w typex.Window) typex.WindowedValue {
		return typex.WindowedValue{Elm: typex.NewKV(k, 1), Timestamp: 1, Windows: []typex.Window{w}}
	}
	for _, wv := range []typex.WindowedValue{in("a", w1), in("a", w1), in("b", w1), in("a", w2)} {
		if _, err := r.Process(ctx, wv); err != nil {
			t.Fatalf("Process(%v) failed: %v", wv, err)
		}
	}
	if diff := cmp.Diff([]any{1, 2, 1, 1}, main.values()); diff != "" {
		t.Errorf("counts diff (-want +got):\n%v", diff)
	}

	timer := func(k string, w typex.Window) TimerRecord {
		fire := w.MaxTimestamp()
		return TimerRecord{Key: k, Window: w, Timer: timers.TimerMap{Family: "Expiry", FireTimestamp: fire, HoldTimestamp: fire}}
	}
	wantTimers := []TimerRecord{timer("a", w1), timer("b", w1), timer("a", w2)}
	if diff := cmp.Diff(wantTimers, us.Pending()); diff != "" {
		t.Errorf("pending timers diff (-want +got):\n%v", diff)
	}

	main.got = nil
	if err := r.ProcessUserTimer(ctx, "Expiry", "a", w1, w1.MaxTimestamp()); err != nil {
		t.Fatalf("ProcessUserTimer() failed: %v", err)
	}
	want := []typex.WindowedValue{{Elm: "a=2", Timestamp: w1.MaxTimestamp(), Windows: []typex.Window{w1}, Pane: typex.NoFiringPane()}}
	if diff := cmp.Diff(want, main.got); diff != "" {
		t.Errorf("timer outputs diff (-want +got):\n%v", diff)
	}

	main.got = nil
	if _, err := r.Process(ctx, in("a", w1)); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if diff := cmp.Diff([]any{1}, main.values()); diff != "" {
		t.Errorf("count after the timer cleared state diff (-want +got):\n%v", diff)
	}

	err := r.ProcessUserTimer(ctx, "Unknown", "a", w1, 0)
	if !errors.Is(err, beamerrors.ErrLookup) {
		t.Errorf("ProcessUserTimer(unknown family) = %v, want a lookup error", err)
	}
}

// finalizingFn registers one finalization callback per element. Elements
// named "flaky" fail their first finalization.
type finalizingFn struct {
	ran map[string]int
}

func (fn *finalizingFn) ProcessElement(bf typex.BundleFinalization, x string) {
	validity := time.Hour
	if x == "expired" {
		validity = -time.Second
	}
	bf.RegisterCallback(validity, func() error {
		fn.ran[x]++
		if x == "flaky" && fn.ran[x] == 1 {
			return errors.New("not yet")
		}
		return nil
	})
}

func TestDoFnRunner_Finalize(t *testing.T) {
	fn := &finalizingFn{ran: map[string]int{}}
	r, _ := newTestRunner(t, fn, RunnerConfig{})
	startBundle(t, r)
	ctx := context.Background()

	for _, x := range []string{"ok", "flaky", "expired"} {
		if _, err := r.Process(ctx, inGlobal(x)); err != nil {
			t.Fatalf("Process(%v) failed: %v", x, err)
		}
	}
	if err := r.Finalize(); err == nil {
		t.Error("Finalize() during a bundle succeeded, want error")
	}
	if err := r.FinishBundle(ctx); err != nil {
		t.Fatalf("FinishBundle() failed: %v", err)
	}
	if !r.FinalizationExpiration().After(time.Now()) {
		t.Errorf("FinalizationExpiration() = %v, want a time in the future", r.FinalizationExpiration())
	}
	if err := r.Finalize(); err == nil {
		t.Error("first Finalize() succeeded, want the flaky callback to fail")
	}
	if err := r.Finalize(); err != nil {
		t.Errorf("second Finalize() failed: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"ok": 1, "flaky": 2}, fn.ran); diff != "" {
		t.Errorf("callback runs diff (-want +got):\n%v", diff)
	}
}

func TestDoFnRunner_Metrics(t *testing.T) {
	emit := func(n int) []int { return make([]int, n) }
	tests := []struct {
		name        string
		experiments []string
		want        []metrics.Result
	}{
		{
			name: "default",
			want: []metrics.Result{{Step: "emit", Namespace: metricsNamespace, Name: "elements", Counter: 3}},
		},
		{
			name:        "outputs per element",
			experiments: []string{runtime.ExperimentOutputsPerElementCounter},
			want: []metrics.Result{
				{Step: "emit", Namespace: metricsNamespace, Name: "elements", Counter: 3},
				{
					Step: "emit", Namespace: metricsNamespace, Name: runtime.ExperimentOutputsPerElementCounter,
					Distribution: metrics.DistributionValue{Count: 3, Sum: 5, Min: 0, Max: 3}, IsDistribution: true,
				},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts := runtime.NewOptions()
			for _, e := range test.experiments {
				opts.AddExperiment(e)
			}
			store := metrics.NewStore()
			r, _ := newTestRunner(t, emit, RunnerConfig{Step: "emit", Options: opts, Metrics: store})
			startBundle(t, r)
			for _, n := range []int{2, 0, 3} {
				if _, err := r.Process(context.Background(), inGlobal(n)); err != nil {
					t.Fatalf("Process(%v) failed: %v", n, err)
				}
			}
			if diff := cmp.Diff(test.want, store.Results()); diff != "" {
				t.Errorf("metrics diff (-want +got):\n%v", diff)
			}
		})
	}
}

func TestDoFnRunner_ProcessSizedElementAndRestriction(t *testing.T) {
	r, main := newTestRunner(t, &rangeFn{}, RunnerConfig{})
	startBundle(t, r)
	ctx := context.Background()

	sized := SizedRestriction{Elm: int64(10), Rest: offsetrange.Restriction{Start: 2, End: 4}, Size: 2}
	if _, err := r.ProcessSizedElementAndRestriction(ctx, inGlobal(sized)); err != nil {
		t.Fatalf("ProcessSizedElementAndRestriction() failed: %v", err)
	}
	if diff := cmp.Diff([]any{int64(2), int64(3)}, main.values()); diff != "" {
		t.Errorf("outputs diff (-want +got):\n%v", diff)
	}

	_, err := r.ProcessSizedElementAndRestriction(ctx, inGlobal(int64(10)))
	if !errors.Is(err, beamerrors.ErrBinding) {
		t.Errorf("ProcessSizedElementAndRestriction(unsized) = %v, want a binding error", err)
	}
	if sr, err := r.TrySplit(0.5); sr != nil || err != nil {
		t.Errorf("TrySplit() between elements = %v, %v, want nil, nil", sr, err)
	}
}

func TestDoFnRunner_SplitAndSizeRestrictions(t *testing.T) {
	r, main := newTestRunner(t, &halvingRangeFn{}, RunnerConfig{})
	startBundle(t, r)
	ctx := context.Background()

	parts, err := r.SplitAndSizeRestrictions(ctx, inGlobal(int64(4)))
	if err != nil {
		t.Fatalf("SplitAndSizeRestrictions() failed: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("SplitAndSizeRestrictions() returned %d parts, want 2", len(parts))
	}
	for i := len(parts) - 1; i >= 0; i-- {
		if _, err := r.ProcessSizedElementAndRestriction(ctx, parts[i]); err != nil {
			t.Fatalf("ProcessSizedElementAndRestriction(%v) failed: %v", parts[i], err)
		}
	}
	if diff := cmp.Diff([]any{int64(2), int64(3), int64(0), int64(1)}, main.values()); diff != "" {
		t.Errorf("outputs diff (-want +got):\n%v", diff)
	}
}

func TestDoFnRunner_Receive(t *testing.T) {
	downstream, main := newTestRunner(t, func(x int) int { return x * 10 }, RunnerConfig{Step: "times10"})
	upstream, _ := newTestRunner(t, func(x int) []int { return []int{x, x + 1} }, RunnerConfig{
		Step:      "expand",
		Receivers: Receivers{Main: downstream},
	})
	startBundle(t, downstream)
	startBundle(t, upstream)

	if _, err := upstream.Process(context.Background(), inGlobal(1)); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if diff := cmp.Diff([]any{10, 20}, main.values()); diff != "" {
		t.Errorf("outputs diff (-want +got):\n%v", diff)
	}
}
