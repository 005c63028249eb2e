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
	"fmt"

	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
)

// StepFailure annotates a fault with the step that raised it. The kind and
// cause of the wrapped error remain reachable through errors.Is and
// errors.As.
type StepFailure struct {
	Step string
	Err  error
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("%v [while running '%v']", f.Err, f.Step)
}

func (f *StepFailure) Unwrap() error {
	return f.Err
}

// augment wraps err with the step identity exactly once. Errors of no
// known kind are classified as runtime faults.
func augment(step string, err error) error {
	if err == nil || step == "" {
		return err
	}
	var sf *StepFailure
	if errors.As(err, &sf) {
		return err
	}
	if errors.KindOf(err) == errors.KindUnknown {
		err = errors.WithKind(err, errors.KindRuntime)
	}
	return &StepFailure{Step: step, Err: err}
}
