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
	"reflect"

	"github.com/apache/beam-fnexec/pkg/beam/core/funcx"
	"github.com/apache/beam-fnexec/pkg/beam/core/metrics"
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	"github.com/apache/beam-fnexec/pkg/beam/core/util/reflectx"
	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
)

// Receiver consumes WindowedValues emitted by a DoFn.
type Receiver interface {
	Receive(ctx context.Context, wv typex.WindowedValue) error
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(ctx context.Context, wv typex.WindowedValue) error

func (f ReceiverFunc) Receive(ctx context.Context, wv typex.WindowedValue) error {
	return f(ctx, wv)
}

// Receivers holds the downstream consumers of a DoFn: the main output and
// any number of tagged outputs.
type Receivers struct {
	Main   Receiver
	Tagged map[string]Receiver
}

// WindowFn assigns windows to a re-timestamped output.
type WindowFn interface {
	AssignWindows(ts typex.EventTime, elm any) []typex.Window
}

// OutputProcessor routes the results of user method invocations to the
// receivers, re-windowing and unwrapping tags as needed. It holds
// non-owning references to the receivers for the lifetime of the runner.
type OutputProcessor struct {
	windowFn  WindowFn
	receivers Receivers

	// perElement is nil unless the per-element output experiment is on.
	perElement *metrics.Distribution
}

// NewOutputProcessor returns an OutputProcessor. If perElement is non-nil,
// the number of outputs of every processed element is recorded into it.
func NewOutputProcessor(wfn WindowFn, rs Receivers, perElement *metrics.Distribution) *OutputProcessor {
	return &OutputProcessor{windowFn: wfn, receivers: rs, perElement: perElement}
}

// ProcessOutputs dispatches the results of one process or timer
// invocation. Outputs are dispatched in the order they are produced. A
// panic while producing or dispatching them is returned as a runtime error.
func (p *OutputProcessor) ProcessOutputs(ctx context.Context, in *typex.WindowedValue, results iter.Seq[any]) (err error) {
	defer reflectx.RecoverPanic(&err)
	var count int64
	results(func(result any) bool {
		count++
		err = p.processOutput(ctx, in, result)
		return err == nil
	})
	if p.perElement != nil {
		p.perElement.Update(ctx, count)
	}
	return err
}

func (p *OutputProcessor) processOutput(ctx context.Context, in *typex.WindowedValue, result any) error {
	tag, result, err := untag(result)
	if err != nil {
		return err
	}
	r, err := p.receiver(tag)
	if err != nil {
		return err
	}

	switch v := result.(type) {
	case typex.WindowedValue:
		v.Windows = multiply(v.Windows, len(in.Windows))
		return r.Receive(ctx, v)
	case *typex.WindowedValue:
		out := *v
		out.Windows = multiply(out.Windows, len(in.Windows))
		return r.Receive(ctx, out)
	case typex.TimestampedValue:
		out := typex.WindowedValue{
			Elm:       v.Value,
			Timestamp: v.Timestamp,
			Windows:   multiply(p.windowFn.AssignWindows(v.Timestamp, v.Value), len(in.Windows)),
			Pane:      typex.NoFiringPane(),
		}
		return r.Receive(ctx, out)
	default:
		if len(in.Windows) == 1 {
			return r.Receive(ctx, in.WithValue(result))
		}
		for _, w := range in.Windows {
			if err := r.Receive(ctx, typex.WindowedValue{Elm: result, Timestamp: in.Timestamp, Windows: []typex.Window{w}, Pane: in.Pane}); err != nil {
				return err
			}
		}
		return nil
	}
}

// StartBundleOutputs fails if StartBundle produced any output.
func (p *OutputProcessor) StartBundleOutputs(results iter.Seq[any]) (err error) {
	defer reflectx.RecoverPanic(&err)
	for result := range results {
		return errors.EmissionErrorf("StartBundle should not output any elements but got %v", result)
	}
	return nil
}

// FinishBundleOutputs dispatches the results of FinishBundle. Each output
// must carry its own windows.
func (p *OutputProcessor) FinishBundleOutputs(ctx context.Context, results iter.Seq[any]) (err error) {
	defer reflectx.RecoverPanic(&err)
	for result := range results {
		tag, result, err := untag(result)
		if err != nil {
			return err
		}
		var wv typex.WindowedValue
		switch v := result.(type) {
		case typex.WindowedValue:
			wv = v
		case *typex.WindowedValue:
			wv = *v
		default:
			return errors.EmissionErrorf("FinishBundle should only output WindowedValue type but got %T", result)
		}
		r, err := p.receiver(tag)
		if err != nil {
			return err
		}
		if err := r.Receive(ctx, wv); err != nil {
			return err
		}
	}
	return nil
}

func (p *OutputProcessor) receiver(tag *string) (Receiver, error) {
	if tag == nil {
		if p.receivers.Main == nil {
			return nil, errors.KindErrorf(errors.KindLookup, "no main output receiver")
		}
		return p.receivers.Main, nil
	}
	r, ok := p.receivers.Tagged[*tag]
	if !ok {
		return nil, errors.KindErrorf(errors.KindLookup, "no receiver for output tag %q", *tag)
	}
	return r, nil
}

// untag unwraps a TaggedOutput. The returned tag is nil for main outputs.
func untag(result any) (*string, any, error) {
	to, ok := result.(typex.TaggedOutput)
	if !ok {
		return nil, result, nil
	}
	tag, ok := to.Tag.(string)
	if !ok {
		return nil, nil, errors.KindErrorf(errors.KindType, "tag %v is not a string", to.Tag)
	}
	return &tag, to.Value, nil
}

// multiply repeats ws n times when n > 1, leaving ws untouched.
func multiply(ws []typex.Window, n int) []typex.Window {
	if n <= 1 {
		return ws
	}
	ret := make([]typex.Window, 0, len(ws)*n)
	for range n {
		ret = append(ret, ws...)
	}
	return ret
}

func noOutputs(func(any) bool) {}

// outputsOf extracts the outputs and error of a completed call of fn. A nil
// single value or nil collection yields no outputs.
func outputsOf(fn *funcx.Fn, ret []any) (iter.Seq[any], error) {
	if pos, ok := fn.Error(); ok && ret[pos] != nil {
		return nil, ret[pos].(error)
	}
	pos, kind, ok := fn.Outputs()
	if !ok || isNil(ret[pos]) {
		return noOutputs, nil
	}
	v := ret[pos]
	if kind == funcx.RetValue {
		return func(yield func(any) bool) { yield(v) }, nil
	}

	switch s := v.(type) {
	case []any:
		return func(yield func(any) bool) {
			for _, e := range s {
				if !yield(e) {
					return
				}
			}
		}, nil
	case iter.Seq[any]:
		return s, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		return func(yield func(any) bool) {
			for i := range rv.Len() {
				if !yield(rv.Index(i).Interface()) {
					return
				}
			}
		}, nil
	case reflect.Func:
		seq := rv.Seq()
		return func(yield func(any) bool) {
			for e := range seq {
				if !yield(e.Interface()) {
					return
				}
			}
		}, nil
	}
	return nil, errors.KindErrorf(errors.KindRuntime, "%v: unsupported output type %T", fn.Name(), v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
