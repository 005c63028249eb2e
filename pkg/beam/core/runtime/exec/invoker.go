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
	"iter"

	"github.com/apache/beam-fnexec/pkg/beam/core/funcx"
	"github.com/apache/beam-fnexec/pkg/beam/core/graph"
	"github.com/apache/beam-fnexec/pkg/beam/core/graph/mtime"
	"github.com/apache/beam-fnexec/pkg/beam/core/sdf"
	"github.com/apache/beam-fnexec/pkg/beam/core/state"
	"github.com/apache/beam-fnexec/pkg/beam/core/timers"
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	"github.com/apache/beam-fnexec/pkg/beam/core/util/reflectx"
	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
)

// SizedRestriction is an element paired with a restriction and the size of
// that restriction. It is the element shape of split primaries and
// residuals.
type SizedRestriction struct {
	Elm  any
	Rest any
	Size float64
}

// SplitResult is the outcome of a successful dynamic split of the element
// being processed.
type SplitResult struct {
	Primary, Residual typex.WindowedValue
	// ResidualWatermark is the output watermark observed immediately before
	// the split.
	ResidualWatermark mtime.Time
}

// Residual is work deferred by a splittable DoFn, to be rescheduled by the
// caller.
type Residual struct {
	Elm               typex.WindowedValue
	OutputWatermark   mtime.Time
	DeferredWatermark mtime.Time
}

// InvokeOpts are the per-call options of InvokeProcess.
type InvokeOpts struct {
	// RTracker is the tracker of an explicitly supplied restriction. If
	// nil, a splittable DoFn processes its initial restriction.
	RTracker sdf.RTracker
	// AdditionalArgs fill SideInputArg markers beyond the last side input.
	AdditionalArgs []any
	// AdditionalKwargs override parameters by position for this call only.
	AdditionalKwargs map[int]any
}

// Invoker calls the methods of a single DoFn instance. Only TrySplit and
// CurrentElementProgress may be called concurrently with the others.
type Invoker interface {
	InvokeSetup(ctx context.Context) error
	InvokeStartBundle(ctx context.Context) error
	InvokeProcess(ctx context.Context, wv typex.WindowedValue, opts InvokeOpts) (*Residual, error)
	InvokeUserTimer(ctx context.Context, family string, key any, w typex.Window, ts typex.EventTime) error
	InvokeFinishBundle(ctx context.Context) error
	InvokeTeardown(ctx context.Context) error

	CreateTracker(rest any) (sdf.RTracker, error)
	InvokeSplitAndSizeRestriction(wv typex.WindowedValue) ([]typex.WindowedValue, error)
	TrySplit(fraction float64) (*SplitResult, error)
	CurrentElementProgress() (sdf.Progress, bool)
}

// InvokerConfig holds what an Invoker binds besides the element.
type InvokerConfig struct {
	// Args are static positional arguments for the value parameters of
	// ProcessElement. They may contain SideInputArg markers.
	Args []any
	// Kwargs are static arguments keyed by parameter position.
	Kwargs     map[int]any
	SideInputs []SideInputMap
	UserState  UserStateContext
	Finalizer  typex.BundleFinalization
}

// NewInvoker returns the invoker for fn. The simple invoker is chosen when
// ProcessElement takes nothing but the element and a context, and there are
// no side inputs, static arguments or user state. The choice is fixed for
// the life of the invoker.
func NewInvoker(fn *graph.DoFn, out *OutputProcessor, cfg InvokerConfig) (Invoker, error) {
	base := invoker{
		fn:         fn,
		out:        out,
		usc:        cfg.UserState,
		bf:         cfg.Finalizer,
		stateSpecs: make(map[string]state.Spec),
		timerSpecs: make(map[string]timers.Spec),
	}
	for _, s := range fn.StateSpecs() {
		base.stateSpecs[s.StateKey()] = s
	}
	for _, s := range fn.TimerSpecs() {
		base.timerSpecs[s.TimerFamily()] = s
	}

	pe := fn.ProcessElementFn()
	if isSimple(fn, pe, cfg) {
		n := &simpleInvoker{invoker: base, process: pe, args: make([]any, len(pe.Param)), ctxPos: -1, elmPos: -1}
		if pos, ok := pe.Role(funcx.RoleContext); ok {
			n.ctxPos = pos
		}
		if pos, ok := pe.Role(funcx.RoleElement); ok {
			n.elmPos = pos
		}
		return n, nil
	}
	n, err := newPerWindowInvoker(base, pe, cfg)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func isSimple(fn *graph.DoFn, pe *funcx.Fn, cfg InvokerConfig) bool {
	for _, p := range pe.Param {
		if p.Role != funcx.RoleElement && p.Role != funcx.RoleContext {
			return false
		}
	}
	return len(cfg.Args) == 0 && len(cfg.Kwargs) == 0 && len(cfg.SideInputs) == 0 && !fn.IsStateful()
}

// invoker implements the parts shared by both invokers: lifecycle methods
// and timer callbacks.
type invoker struct {
	fn  *graph.DoFn
	out *OutputProcessor
	usc UserStateContext
	bf  typex.BundleFinalization

	stateSpecs map[string]state.Spec
	timerSpecs map[string]timers.Spec
}

func (n *invoker) invokeLifecycle(ctx context.Context, f *funcx.Fn) (iter.Seq[any], error) {
	if f == nil {
		return noOutputs, nil
	}
	args := make([]any, len(f.Param))
	for _, pos := range f.Params(funcx.RoleContext) {
		args[pos] = ctx
	}
	ret, err := reflectx.CallNoPanic(f.Fn, args)
	if err != nil {
		return nil, err
	}
	return outputsOf(f, ret)
}

func (n *invoker) InvokeSetup(ctx context.Context) error {
	_, err := n.invokeLifecycle(ctx, n.fn.SetupFn())
	return err
}

func (n *invoker) InvokeStartBundle(ctx context.Context) error {
	results, err := n.invokeLifecycle(ctx, n.fn.StartBundleFn())
	if err != nil {
		return err
	}
	return n.out.StartBundleOutputs(results)
}

func (n *invoker) InvokeFinishBundle(ctx context.Context) error {
	results, err := n.invokeLifecycle(ctx, n.fn.FinishBundleFn())
	if err != nil {
		return err
	}
	return n.out.FinishBundleOutputs(ctx, results)
}

func (n *invoker) InvokeTeardown(ctx context.Context) error {
	_, err := n.invokeLifecycle(ctx, n.fn.TeardownFn())
	return err
}

func (n *invoker) newStateProvider(key any, w typex.Window) *stateProvider {
	return &stateProvider{usc: n.usc, declared: n.stateSpecs, key: key, w: w}
}

func (n *invoker) newTimerProvider(key any, w typex.Window) *timerProvider {
	return &timerProvider{usc: n.usc, declared: n.timerSpecs, key: key, w: w}
}

// InvokeUserTimer runs the callback of the timer family for a timer that
// fired for key in window w. Outputs of the callback belong to w.
func (n *invoker) InvokeUserTimer(ctx context.Context, family string, key any, w typex.Window, ts typex.EventTime) error {
	cb, ok := n.fn.TimerCallback(family)
	if !ok {
		return errors.KindErrorf(errors.KindLookup, "%v has no callback for timer family %q", n.fn.Name(), family)
	}
	args := make([]any, len(cb.Param))
	var tp *timerProvider
	for i, p := range cb.Param {
		switch p.Role {
		case funcx.RoleContext:
			args[i] = ctx
		case funcx.RoleKey:
			args[i] = key
		case funcx.RoleWindow:
			args[i] = w
		case funcx.RoleTimestamp:
			args[i] = ts
		case funcx.RoleState:
			args[i] = n.newStateProvider(key, w)
		case funcx.RoleTimer:
			tp = n.newTimerProvider(key, w)
			args[i] = tp
		}
	}
	ret, err := reflectx.CallNoPanic(cb.Fn, args)
	if err != nil {
		return err
	}
	results, err := outputsOf(cb, ret)
	if err != nil {
		return err
	}
	in := typex.WindowedValue{Timestamp: ts, Windows: []typex.Window{w}, Pane: typex.NoFiringPane()}
	if err := n.out.ProcessOutputs(ctx, &in, results); err != nil {
		return err
	}
	if tp != nil {
		return tp.err
	}
	return nil
}

// simpleInvoker calls ProcessElement with the element, and the context if
// requested. It never splits.
type simpleInvoker struct {
	invoker

	process        *funcx.Fn
	args           []any
	ctxPos, elmPos int
}

func (n *simpleInvoker) InvokeProcess(ctx context.Context, wv typex.WindowedValue, opts InvokeOpts) (*Residual, error) {
	if opts.RTracker != nil {
		return nil, errors.BindingErrorf("%v is not splittable", n.fn.Name())
	}
	if len(opts.AdditionalArgs) > 0 || len(opts.AdditionalKwargs) > 0 {
		return nil, errors.BindingErrorf("%v takes no additional arguments", n.fn.Name())
	}
	ctx = withElement(ctx, &wv)
	if n.elmPos >= 0 {
		n.args[n.elmPos] = wv.Elm
	}
	if n.ctxPos >= 0 {
		n.args[n.ctxPos] = ctx
	}
	ret, err := reflectx.CallNoPanic(n.process.Fn, n.args)
	if err != nil {
		return nil, err
	}
	results, err := outputsOf(n.process, ret)
	if err != nil {
		return nil, err
	}
	return nil, n.out.ProcessOutputs(ctx, &wv, results)
}

func (n *simpleInvoker) CreateTracker(any) (sdf.RTracker, error) {
	return nil, errors.BindingErrorf("%v is not splittable", n.fn.Name())
}

func (n *simpleInvoker) InvokeSplitAndSizeRestriction(typex.WindowedValue) ([]typex.WindowedValue, error) {
	return nil, errors.BindingErrorf("%v is not splittable", n.fn.Name())
}

func (n *simpleInvoker) TrySplit(float64) (*SplitResult, error) {
	return nil, nil
}

func (n *simpleInvoker) CurrentElementProgress() (sdf.Progress, bool) {
	return sdf.Progress{}, false
}
