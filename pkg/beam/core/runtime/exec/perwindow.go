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
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/apache/beam-fnexec/pkg/beam/core/funcx"
	"github.com/apache/beam-fnexec/pkg/beam/core/graph/mtime"
	"github.com/apache/beam-fnexec/pkg/beam/core/graph/window"
	"github.com/apache/beam-fnexec/pkg/beam/core/sdf"
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	"github.com/apache/beam-fnexec/pkg/beam/core/util/reflectx"
	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
)

// slot is a position of the argument template filled per call. For
// RoleSideInput, side is the index of the side input, or, past the last
// side input, of an additional argument.
type slot struct {
	pos  int
	role funcx.ParamRole
	side int
}

// invocationPlan is the argument template of ProcessElement. Literal
// arguments are set once; slots are overwritten on every call.
type invocationPlan struct {
	args  []any
	slots []slot
	// extra is the number of additional arguments expected per call.
	extra int
}

type planSource struct {
	side int // -1 for a literal
	v    any
}

// newInvocationPlan binds static arguments and side inputs to the value
// parameters of f. Kwargs bind by position; the remaining value parameters
// take, in order, the static arguments followed by any side inputs not
// placed by a marker.
func newInvocationPlan(f *funcx.Fn, args []any, kwargs map[int]any, numSides int) (*invocationPlan, error) {
	p := &invocationPlan{args: make([]any, len(f.Param))}

	k := 0
	var sources []planSource
	for _, a := range args {
		if _, ok := a.(SideInputArg); ok {
			sources = append(sources, planSource{side: k})
			k++
			continue
		}
		sources = append(sources, planSource{side: -1, v: a})
	}

	kwPos := make([]int, 0, len(kwargs))
	for pos := range kwargs {
		kwPos = append(kwPos, pos)
	}
	sort.Ints(kwPos)
	for _, pos := range kwPos {
		if pos < 0 || pos >= len(f.Param) || f.Param[pos].Role != funcx.RoleValue {
			return nil, errors.SignatureErrorf("%v: keyword argument for parameter %d, which is not a value parameter", f.Name(), pos)
		}
		if _, ok := kwargs[pos].(SideInputArg); ok {
			p.slots = append(p.slots, slot{pos: pos, role: funcx.RoleSideInput, side: k})
			k++
			continue
		}
		p.args[pos] = kwargs[pos]
	}
	for ; k < numSides; k++ {
		sources = append(sources, planSource{side: k})
	}
	p.extra = max(k-numSides, 0)

	i := 0
	for _, pos := range f.Params(funcx.RoleValue) {
		if _, ok := kwargs[pos]; ok {
			continue
		}
		if i >= len(sources) {
			return nil, errors.SignatureErrorf("%v: no value for side input or argument at parameter %d", f.Name(), pos)
		}
		s := sources[i]
		i++
		if s.side >= 0 {
			p.slots = append(p.slots, slot{pos: pos, role: funcx.RoleSideInput, side: s.side})
		} else {
			p.args[pos] = s.v
		}
	}
	if i < len(sources) {
		return nil, errors.SignatureErrorf("%v: %d arguments and side inputs given for %d value parameters", f.Name(), len(sources), i)
	}

	for pos, param := range f.Param {
		if param.Role != funcx.RoleValue {
			p.slots = append(p.slots, slot{pos: pos, role: param.Role})
		}
	}
	return p, nil
}

// splitState is the element in flight in a splittable invocation.
type splitState struct {
	elm typex.WindowedValue
	rt  *sdf.LockRTracker
}

// perWindowInvoker binds every contextual parameter through an
// invocationPlan, exploding multi-window elements when a parameter depends
// on the window, and coordinates dynamic splits of splittable DoFns.
type perWindowInvoker struct {
	invoker

	process *funcx.Fn
	plan    *invocationPlan
	sides   []SideInputMap

	hasWindowedInputs bool
	keyed             bool
	splittable        bool

	// derefKV is set if ProcessElement takes a typex.KV element, which a
	// *typex.KV input is dereferenced into.
	derefKV bool

	// allGlobal is set if there are side inputs and all are globally
	// windowed. Their values are then cached until the bundle ends.
	allGlobal   bool
	cachedSides []any

	rp sdf.RestrictionProvider
	we sdf.WatermarkEstimator

	mu  sync.Mutex // guards cur
	cur *splitState
}

func newPerWindowInvoker(base invoker, pe *funcx.Fn, cfg InvokerConfig) (*perWindowInvoker, error) {
	plan, err := newInvocationPlan(pe, cfg.Args, cfg.Kwargs, len(cfg.SideInputs))
	if err != nil {
		return nil, err
	}
	n := &perWindowInvoker{
		invoker:    base,
		process:    pe,
		plan:       plan,
		sides:      cfg.SideInputs,
		splittable: base.fn.IsSplittable(),
		rp:         base.fn.RestrictionProvider(),
	}

	allGlobal := true
	for _, s := range cfg.SideInputs {
		if !s.IsGloballyWindowed() {
			allGlobal = false
		}
	}
	_, wantsWindow := pe.Role(funcx.RoleWindow)
	_, wantsKey := pe.Role(funcx.RoleKey)
	n.allGlobal = allGlobal && len(cfg.SideInputs) > 0
	n.hasWindowedInputs = !allGlobal || wantsWindow || base.fn.IsStateful()
	n.keyed = wantsKey || base.fn.IsStateful()
	if pos, ok := pe.Role(funcx.RoleElement); ok {
		n.derefKV = pe.Param[pos].T == reflect.TypeOf(typex.KV{})
	}

	if wep := base.fn.WatermarkEstimatorProvider(); wep != nil && n.splittable {
		n.we = wep.CreateWatermarkEstimator()
	}
	return n, nil
}

func (n *perWindowInvoker) InvokeProcess(ctx context.Context, wv typex.WindowedValue, opts InvokeOpts) (*Residual, error) {
	rt := opts.RTracker
	if rt == nil && n.splittable {
		rt = n.rp.CreateTracker(n.rp.CreateInitialRestriction(wv.Elm))
	}
	if rt != nil {
		if !n.splittable {
			return nil, errors.BindingErrorf("%v is not splittable", n.fn.Name())
		}
		if n.hasWindowedInputs && len(wv.Windows) > 1 {
			return nil, errors.KindErrorf(errors.KindSplitConflict, "%v: splittable element %v is in %d windows and must be exploded before processing", n.fn.Name(), wv, len(wv.Windows))
		}
		return n.invokeSplittable(ctx, wv, rt, opts)
	}

	if n.hasWindowedInputs && len(wv.Windows) > 1 {
		for _, w := range wv.Windows {
			if err := n.invokePerWindow(ctx, wv.InWindow(w), nil, opts); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return nil, n.invokePerWindow(ctx, wv, nil, opts)
}

// invokeSplittable processes one element under a LockRTracker that
// concurrent TrySplit calls see until the invocation returns.
func (n *perWindowInvoker) invokeSplittable(ctx context.Context, wv typex.WindowedValue, rt sdf.RTracker, opts InvokeOpts) (*Residual, error) {
	lrt := sdf.NewLockRTracker(rt)
	if n.we != nil {
		n.we.Reset()
	}

	n.mu.Lock()
	n.cur = &splitState{elm: wv, rt: lrt}
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.cur = nil
		n.mu.Unlock()
	}()

	if err := n.invokePerWindow(ctx, wv, lrt, opts); err != nil {
		return nil, err
	}
	if err := lrt.CheckDone(); err != nil {
		return nil, errors.WithKind(err, errors.KindRuntime)
	}
	rest, deferredWm, ok := lrt.DeferredStatus()
	if !ok {
		return nil, nil
	}
	return &Residual{
		Elm:               wv.WithValue(n.sized(wv.Elm, rest)),
		OutputWatermark:   n.currentWatermark(),
		DeferredWatermark: deferredWm,
	}, nil
}

func (n *perWindowInvoker) sized(elm, rest any) SizedRestriction {
	return SizedRestriction{Elm: elm, Rest: rest, Size: n.rp.RestrictionSize(elm, rest)}
}

func (n *perWindowInvoker) currentWatermark() mtime.Time {
	if n.we == nil {
		return mtime.MinTimestamp
	}
	return n.we.CurrentWatermark()
}

// invokePerWindow fills the plan for wv and calls ProcessElement once.
func (n *perWindowInvoker) invokePerWindow(ctx context.Context, wv typex.WindowedValue, rt sdf.RTracker, opts InvokeOpts) error {
	args := n.plan.args
	if len(opts.AdditionalKwargs) > 0 {
		args = slices.Clone(args)
	}
	if len(opts.AdditionalArgs) > n.plan.extra {
		return errors.BindingErrorf("%v: got %d additional arguments, want at most %d", n.fn.Name(), len(opts.AdditionalArgs), n.plan.extra)
	}

	var w typex.Window
	if len(wv.Windows) > 0 {
		w = wv.Windows[0]
	}
	elm := wv.Elm
	if kv, ok := elm.(*typex.KV); ok && (n.keyed || n.derefKV) {
		if kv == nil {
			return errors.BindingErrorf("%v: nil *typex.KV element", n.fn.Name())
		}
		if n.derefKV {
			elm = *kv
		}
	}
	var key any
	if n.keyed {
		switch kv := wv.Elm.(type) {
		case typex.KV:
			key = kv.Key
		case *typex.KV:
			key = kv.Key
		default:
			return errors.BindingErrorf("input value to a keyed or stateful DoFn must be a KV, got %T", wv.Elm)
		}
	}

	ctx = withElement(ctx, &wv)
	var tp *timerProvider
	for _, s := range n.plan.slots {
		switch s.role {
		case funcx.RoleContext:
			args[s.pos] = ctx
		case funcx.RoleElement:
			args[s.pos] = elm
		case funcx.RoleKey:
			args[s.pos] = key
		case funcx.RoleWindow:
			if w == nil {
				return errors.BindingErrorf("%v: element %v has no window", n.fn.Name(), wv)
			}
			args[s.pos] = w
		case funcx.RoleTimestamp:
			args[s.pos] = wv.Timestamp
		case funcx.RolePane:
			args[s.pos] = wv.Pane
		case funcx.RoleState:
			args[s.pos] = n.newStateProvider(key, w)
		case funcx.RoleTimer:
			tp = n.newTimerProvider(key, w)
			args[s.pos] = tp
		case funcx.RoleRestriction:
			args[s.pos] = rt
		case funcx.RoleWatermarkEstimator:
			args[s.pos] = n.we
		case funcx.RoleBundleFinalizer:
			args[s.pos] = n.bf
		case funcx.RoleSideInput:
			v, err := n.sideInput(s.side, w, opts.AdditionalArgs)
			if err != nil {
				return err
			}
			args[s.pos] = v
		}
	}
	for pos, v := range opts.AdditionalKwargs {
		if pos < 0 || pos >= len(args) {
			return errors.BindingErrorf("%v: additional keyword argument for parameter %d out of range", n.fn.Name(), pos)
		}
		args[pos] = v
	}

	ret, err := reflectx.CallNoPanic(n.process.Fn, args)
	if err != nil {
		return err
	}
	results, err := outputsOf(n.process, ret)
	if err != nil {
		return err
	}
	if err := n.out.ProcessOutputs(ctx, &wv, results); err != nil {
		return err
	}
	if tp != nil {
		return tp.err
	}
	return nil
}

func (n *perWindowInvoker) sideInput(k int, w typex.Window, additional []any) (any, error) {
	if k >= len(n.sides) {
		i := k - len(n.sides)
		if i >= len(additional) {
			return nil, errors.BindingErrorf("%v: missing additional argument %d", n.fn.Name(), i)
		}
		return additional[i], nil
	}
	if n.allGlobal {
		if n.cachedSides == nil {
			vals := make([]any, len(n.sides))
			for i, s := range n.sides {
				v, err := s.Get(window.GlobalWindow{})
				if err != nil {
					return nil, err
				}
				vals[i] = v
			}
			n.cachedSides = vals
		}
		return n.cachedSides[k], nil
	}
	if w == nil {
		return nil, errors.BindingErrorf("%v: side input %d needs a window", n.fn.Name(), k)
	}
	return n.sides[k].Get(w)
}

func (n *perWindowInvoker) InvokeFinishBundle(ctx context.Context) error {
	n.cachedSides = nil
	return n.invoker.InvokeFinishBundle(ctx)
}

func (n *perWindowInvoker) CreateTracker(rest any) (sdf.RTracker, error) {
	if !n.splittable {
		return nil, errors.BindingErrorf("%v is not splittable", n.fn.Name())
	}
	return n.rp.CreateTracker(rest), nil
}

// InvokeSplitAndSizeRestriction splits the initial restriction of the
// element of wv with SplitRestriction. It returns one value per part, in
// the windows of wv, whose element is the sized part.
func (n *perWindowInvoker) InvokeSplitAndSizeRestriction(wv typex.WindowedValue) (ret []typex.WindowedValue, err error) {
	if !n.splittable {
		return nil, errors.BindingErrorf("%v is not splittable", n.fn.Name())
	}
	defer reflectx.RecoverPanic(&err)
	for _, part := range n.rp.SplitRestriction(wv.Elm, n.rp.CreateInitialRestriction(wv.Elm)) {
		ret = append(ret, wv.WithValue(n.sized(wv.Elm, part)))
	}
	return ret, nil
}

// TrySplit splits the restriction of the element in flight. It returns nil
// if no splittable element is being processed or the tracker declines.
func (n *perWindowInvoker) TrySplit(fraction float64) (*SplitResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cur == nil {
		return nil, nil
	}
	// The watermark must be read before splitting: the processing goroutine
	// may advance it past the residual once the split is visible.
	wm := n.currentWatermark()
	primary, residual, err := n.cur.rt.TrySplit(fraction)
	if err != nil {
		return nil, err
	}
	if residual == nil {
		return nil, nil
	}
	elm := n.cur.elm
	return &SplitResult{
		Primary:           elm.WithValue(n.sized(elm.Elm, primary)),
		Residual:          elm.WithValue(n.sized(elm.Elm, residual)),
		ResidualWatermark: wm,
	}, nil
}

// CurrentElementProgress reports the progress of the element in flight.
func (n *perWindowInvoker) CurrentElementProgress() (sdf.Progress, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cur == nil {
		return sdf.Progress{}, false
	}
	return n.cur.rt.Progress(), true
}
