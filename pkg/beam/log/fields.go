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

package log

import "context"

// Field is a single key/value annotation carried on a context.
type Field struct {
	Key   string
	Value string
}

type fieldsKey struct{}

// WithFields returns a context that carries the given fields in addition to
// any already present. Later fields with the same key shadow earlier ones.
func WithFields(ctx context.Context, fs ...Field) context.Context {
	if len(fs) == 0 {
		return ctx
	}
	prev := Fields(ctx)
	merged := make([]Field, 0, len(prev)+len(fs))
	for _, p := range prev {
		shadowed := false
		for _, f := range fs {
			if f.Key == p.Key {
				shadowed = true
				break
			}
		}
		if !shadowed {
			merged = append(merged, p)
		}
	}
	merged = append(merged, fs...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// Fields returns the fields attached to ctx, in insertion order.
func Fields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	fs, _ := ctx.Value(fieldsKey{}).([]Field)
	return fs
}
