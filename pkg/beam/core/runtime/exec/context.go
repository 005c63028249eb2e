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

	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
)

type invocationKey struct{}

// InvocationContext identifies the step and bundle a user method runs in.
// During element processing it also exposes the element being processed.
type InvocationContext struct {
	Step     string
	BundleID string

	elm *typex.WindowedValue
}

// Element returns the WindowedValue currently being processed. It fails
// outside of element processing, such as in StartBundle or a timer callback.
func (c InvocationContext) Element() (typex.WindowedValue, error) {
	if c.elm == nil {
		return typex.WindowedValue{}, errors.KindErrorf(errors.KindRuntime, "element not accessible in this context")
	}
	return *c.elm, nil
}

// WithInvocationContext returns a context carrying the step and bundle
// identity, with no current element.
func WithInvocationContext(ctx context.Context, step, bundleID string) context.Context {
	return context.WithValue(ctx, invocationKey{}, InvocationContext{Step: step, BundleID: bundleID})
}

// FromContext returns the InvocationContext carried by ctx, if any.
func FromContext(ctx context.Context) (InvocationContext, bool) {
	ic, ok := ctx.Value(invocationKey{}).(InvocationContext)
	return ic, ok
}

// ElementFromContext is a convenience for user code holding only a
// context.Context.
func ElementFromContext(ctx context.Context) (typex.WindowedValue, error) {
	ic, _ := FromContext(ctx)
	return ic.Element()
}

func withElement(ctx context.Context, wv *typex.WindowedValue) context.Context {
	ic, _ := FromContext(ctx)
	ic.elm = wv
	return context.WithValue(ctx, invocationKey{}, ic)
}
