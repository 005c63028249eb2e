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
	"time"

	"github.com/google/uuid"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph"
	"github.com/apache/beam-fnexec/pkg/beam/core/graph/window"
	"github.com/apache/beam-fnexec/pkg/beam/core/metrics"
	"github.com/apache/beam-fnexec/pkg/beam/core/runtime"
	"github.com/apache/beam-fnexec/pkg/beam/core/sdf"
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
	"github.com/apache/beam-fnexec/pkg/beam/log"
	"github.com/apache/beam-fnexec/pkg/beam/util/errorx"
)

const metricsNamespace = "fnexec"

var (
	elementsProcessed = metrics.NewCounter(metricsNamespace, "elements")
	outputsPerElement = metrics.NewDistribution(metricsNamespace, runtime.ExperimentOutputsPerElementCounter)
)

// RunnerConfig configures a DoFnRunner.
type RunnerConfig struct {
	// Args, Kwargs and SideInputs are bound to the value parameters of
	// ProcessElement. See InvokerConfig.
	Args       []any
	Kwargs     map[int]any
	SideInputs []SideInputMap

	// WindowFn assigns windows to timestamped outputs. Defaults to the
	// global window.
	WindowFn  WindowFn
	Receivers Receivers

	// Step names the DoFn in errors, logs and metrics.
	Step string
	// UserState is required if the DoFn declares state or timers.
	UserState UserStateContext

	// Options defaults to runtime.GlobalOptions.
	Options *runtime.Options
	// Metrics, if set, receives the metrics of the runner and the DoFn.
	Metrics *metrics.Store
}

// DoFnRunner drives a single DoFn instance through its lifecycle. Every
// error it returns identifies the step.
type DoFnRunner struct {
	Fn *graph.DoFn

	step    string
	invoker Invoker
	bf      *bundleFinalizer
	store   *metrics.Store

	bundleID string
	status   Status
	err      errorx.GuardedError
}

// NewDoFnRunner validates fn and selects its invoker.
func NewDoFnRunner(fn any, cfg RunnerConfig) (*DoFnRunner, error) {
	d, err := graph.NewDoFn(fn)
	if err != nil {
		return nil, augment(cfg.Step, err)
	}
	if d.IsStateful() && cfg.UserState == nil {
		return nil, augment(cfg.Step, errors.SignatureErrorf("%v declares state or timers, but no user state context was provided", d.Name()))
	}

	opts := cfg.Options
	if opts == nil {
		opts = runtime.GlobalOptions
	}
	wfn := cfg.WindowFn
	if wfn == nil {
		wfn = window.NewGlobalWindows()
	}
	var perElement *metrics.Distribution
	if opts.HasExperiment(runtime.ExperimentOutputsPerElementCounter) {
		perElement = outputsPerElement
	}

	bf := &bundleFinalizer{}
	inv, err := NewInvoker(d, NewOutputProcessor(wfn, cfg.Receivers, perElement), InvokerConfig{
		Args:       cfg.Args,
		Kwargs:     cfg.Kwargs,
		SideInputs: cfg.SideInputs,
		UserState:  cfg.UserState,
		Finalizer:  bf,
	})
	if err != nil {
		return nil, augment(cfg.Step, err)
	}
	return &DoFnRunner{Fn: d, step: cfg.Step, invoker: inv, bf: bf, store: cfg.Metrics}, nil
}

// Status returns the lifecycle status of the runner.
func (r *DoFnRunner) Status() Status {
	return r.status
}

// BundleID returns the ID of the current, or last, bundle.
func (r *DoFnRunner) BundleID() string {
	return r.bundleID
}

// Setup calls the Setup method of the DoFn.
func (r *DoFnRunner) Setup(ctx context.Context) error {
	if err := r.checkStatus(Initializing); err != nil {
		return err
	}
	if err := r.invoker.InvokeSetup(r.context(ctx)); err != nil {
		return r.fail(err)
	}
	r.status = Up
	return nil
}

// StartBundle begins a new bundle and calls the StartBundle method of the
// DoFn, which must not output anything.
func (r *DoFnRunner) StartBundle(ctx context.Context) error {
	if err := r.checkStatus(Up); err != nil {
		return err
	}
	r.bundleID = uuid.NewString()
	r.status = Active

	ctx = r.context(ctx)
	log.Debugf(ctx, "starting bundle")
	if err := r.invoker.InvokeStartBundle(ctx); err != nil {
		return r.fail(err)
	}
	return nil
}

// Process processes one element. For a splittable DoFn it returns the
// work deferred by the DoFn, if any.
func (r *DoFnRunner) Process(ctx context.Context, wv typex.WindowedValue) (*Residual, error) {
	if err := r.checkStatus(Active); err != nil {
		return nil, err
	}
	ctx = r.context(ctx)
	res, err := r.invoker.InvokeProcess(ctx, wv, InvokeOpts{})
	if err != nil {
		return nil, r.failElement(err)
	}
	elementsProcessed.Inc(ctx, 1)
	return res, nil
}

// Receive makes the runner a Receiver, so runners can be chained. Deferred
// work is dropped.
func (r *DoFnRunner) Receive(ctx context.Context, wv typex.WindowedValue) error {
	res, err := r.Process(ctx, wv)
	if res != nil {
		log.Warnf(r.context(ctx), "dropping residual %v of chained DoFn", res.Elm)
	}
	return err
}

// ProcessSizedElementAndRestriction processes an element whose value is a
// SizedRestriction, with a tracker for its restriction. The size is
// ignored.
func (r *DoFnRunner) ProcessSizedElementAndRestriction(ctx context.Context, wv typex.WindowedValue) (*Residual, error) {
	if err := r.checkStatus(Active); err != nil {
		return nil, err
	}
	var sr SizedRestriction
	switch v := wv.Elm.(type) {
	case SizedRestriction:
		sr = v
	case *SizedRestriction:
		sr = *v
	default:
		return nil, r.failElement(errors.BindingErrorf("element of %v must be a SizedRestriction, got %T", r.Fn.Name(), wv.Elm))
	}
	rt, err := r.invoker.CreateTracker(sr.Rest)
	if err != nil {
		return nil, r.failElement(err)
	}
	ctx = r.context(ctx)
	res, err := r.invoker.InvokeProcess(ctx, wv.WithValue(sr.Elm), InvokeOpts{RTracker: rt})
	if err != nil {
		return nil, r.failElement(err)
	}
	elementsProcessed.Inc(ctx, 1)
	return res, nil
}

// SplitAndSizeRestrictions splits the initial restriction of the element of
// wv into the parts the DoFn chooses, each sized. Every returned value can
// be passed to ProcessSizedElementAndRestriction.
func (r *DoFnRunner) SplitAndSizeRestrictions(ctx context.Context, wv typex.WindowedValue) ([]typex.WindowedValue, error) {
	if err := r.checkStatus(Active); err != nil {
		return nil, err
	}
	parts, err := r.invoker.InvokeSplitAndSizeRestriction(wv)
	if err != nil {
		return nil, r.failElement(err)
	}
	return parts, nil
}

// ProcessUserTimer runs the callback of a fired timer.
func (r *DoFnRunner) ProcessUserTimer(ctx context.Context, family string, key any, w typex.Window, ts typex.EventTime) error {
	if err := r.checkStatus(Active); err != nil {
		return err
	}
	if err := r.invoker.InvokeUserTimer(r.context(ctx), family, key, w, ts); err != nil {
		return r.failElement(err)
	}
	return nil
}

// TrySplit asks the element in flight to split at fraction of its
// remaining work. It may be called from any goroutine. A nil result means
// no split happened.
func (r *DoFnRunner) TrySplit(fraction float64) (*SplitResult, error) {
	sr, err := r.invoker.TrySplit(fraction)
	return sr, augment(r.step, err)
}

// CurrentElementProgress reports the progress of the element in flight. It
// may be called from any goroutine.
func (r *DoFnRunner) CurrentElementProgress() (sdf.Progress, bool) {
	return r.invoker.CurrentElementProgress()
}

// FinishBundle calls the FinishBundle method of the DoFn, whose outputs
// must be windowed values.
func (r *DoFnRunner) FinishBundle(ctx context.Context) error {
	if err := r.checkStatus(Active); err != nil {
		return err
	}
	ctx = r.context(ctx)
	if err := r.invoker.InvokeFinishBundle(ctx); err != nil {
		return r.fail(err)
	}
	r.status = Up
	log.Debugf(ctx, "finished bundle")
	return nil
}

// Finalize runs the bundle finalization callbacks registered during the
// last bundle that have not expired. Failed callbacks are retried by the
// next call.
func (r *DoFnRunner) Finalize() error {
	if err := r.checkStatus(Up); err != nil {
		return err
	}
	return augment(r.step, r.bf.finalize())
}

// FinalizationExpiration returns the time after which no pending
// finalization callback is valid.
func (r *DoFnRunner) FinalizationExpiration() time.Time {
	return r.bf.expiration()
}

// Teardown calls the Teardown method of the DoFn. It returns the first
// error the runner failed with, if any, and is a no-op after the first
// call.
func (r *DoFnRunner) Teardown(ctx context.Context) error {
	if r.status == Down {
		return r.err.Error()
	}
	r.status = Down
	if err := r.invoker.InvokeTeardown(r.context(ctx)); err != nil {
		r.err.TrySetError(augment(r.step, err))
	}
	return r.err.Error()
}

func (r *DoFnRunner) checkStatus(want Status) error {
	if r.status != want {
		return augment(r.step, errors.Errorf("invalid status for DoFn %v: %v, want %v", r.Fn.Name(), r.status, want))
	}
	return nil
}

func (r *DoFnRunner) context(ctx context.Context) context.Context {
	ctx = WithInvocationContext(ctx, r.step, r.bundleID)
	if r.store != nil {
		ctx = metrics.WithStore(ctx, r.store, r.step)
	}
	return log.WithFields(ctx, log.Field{Key: "step", Value: r.step}, log.Field{Key: "bundle", Value: r.bundleID})
}

// fail marks the runner broken.
func (r *DoFnRunner) fail(err error) error {
	r.status = Broken
	err = augment(r.step, err)
	r.err.TrySetError(err)
	return err
}

// failElement fails the runner unless err only concerns the current
// element.
func (r *DoFnRunner) failElement(err error) error {
	if errors.Is(err, errors.ErrBinding) {
		return augment(r.step, err)
	}
	return r.fail(err)
}
