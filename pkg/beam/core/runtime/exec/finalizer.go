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
	"time"

	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
)

type bundleFinalizationCallback struct {
	callback   func() error
	validUntil time.Time
}

// bundleFinalizer holds all the user defined callbacks to be run on bundle
// finalization. It is the typex.BundleFinalization bound into user methods.
type bundleFinalizer struct {
	callbacks         []bundleFinalizationCallback
	lastValidCallback time.Time
}

// RegisterCallback is used by the user to register callbacks to be run on
// bundle finalization.
func (bf *bundleFinalizer) RegisterCallback(t time.Duration, cb func() error) {
	callback := bundleFinalizationCallback{
		callback:   cb,
		validUntil: time.Now().Add(t),
	}
	if bf.lastValidCallback.Before(callback.validUntil) {
		bf.lastValidCallback = callback.validUntil
	}
	bf.callbacks = append(bf.callbacks, callback)
}

// finalize runs every callback that has not expired. Failed callbacks are
// kept so a later call can retry them; expired ones are dropped.
func (bf *bundleFinalizer) finalize() error {
	now := time.Now()
	var failed []bundleFinalizationCallback
	var errs []error
	for _, bfc := range bf.callbacks {
		if !now.Before(bfc.validUntil) {
			continue
		}
		if err := bfc.callback(); err != nil {
			failed = append(failed, bfc)
			errs = append(errs, err)
		}
	}

	bf.callbacks = failed
	bf.lastValidCallback = now
	for _, bfc := range failed {
		if bf.lastValidCallback.Before(bfc.validUntil) {
			bf.lastValidCallback = bfc.validUntil
		}
	}

	if len(failed) > 0 {
		return errors.Wrapf(errors.Join(errs...), "failed %v callbacks", len(failed))
	}
	return nil
}

// expiration returns the time after which no registered callback is valid.
func (bf *bundleFinalizer) expiration() time.Time {
	return bf.lastValidCallback
}
