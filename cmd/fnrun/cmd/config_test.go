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

package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph/window"
	"github.com/apache/beam-fnexec/pkg/beam/core/runtime"
)

func TestParseConfig(t *testing.T) {
	data := `
step: Emit
window:
  kind: fixed
  size: 1s
elements:
  - count: 3
  - count: 5
    timestamp: 1500
maxClaimsPerCall: 2
claimDelay: 1ms
split:
  fraction: 0.5
  after: 2
experiments: [outputs_per_element_counter]
options:
  job_name: test
`
	got, err := ParseConfig([]byte(data))
	if err != nil {
		t.Fatalf("ParseConfig() failed: %v", err)
	}
	want := &Config{
		Step:             "Emit",
		Window:           WindowConfig{Kind: "fixed", Size: time.Second},
		Elements:         []ElementConfig{{Count: 3}, {Count: 5, Timestamp: 1500}},
		MaxClaimsPerCall: 2,
		ClaimDelay:       time.Millisecond,
		Split:            SplitConfig{Fraction: 0.5, After: 2, Poll: time.Millisecond},
		Experiments:      []string{"outputs_per_element_counter"},
		Options:          map[string]string{"job_name": "test"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseConfig() diff (-want +got):\n%v", diff)
	}

	wfn, err := got.WindowFn()
	if err != nil {
		t.Fatalf("WindowFn() failed: %v", err)
	}
	if diff := cmp.Diff(window.NewFixedWindows(time.Second), wfn); diff != "" {
		t.Errorf("WindowFn() diff (-want +got):\n%v", diff)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	got, err := ParseConfig([]byte("elements: [{count: 1}]"))
	if err != nil {
		t.Fatalf("ParseConfig() failed: %v", err)
	}
	if got.Step != "RangeEmitter" {
		t.Errorf("Step = %q, want RangeEmitter", got.Step)
	}
	if got.Split.Poll != time.Millisecond {
		t.Errorf("Split.Poll = %v, want 1ms", got.Split.Poll)
	}
	wfn, err := got.WindowFn()
	if err != nil {
		t.Fatalf("WindowFn() failed: %v", err)
	}
	if wfn.Kind != window.GlobalWindows {
		t.Errorf("WindowFn().Kind = %v, want %v", wfn.Kind, window.GlobalWindows)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name, data, want string
	}{
		{"unknown key", "elements: [{count: 1}]\nbogus: 1", "invalid run file"},
		{"no elements", "step: x", "no elements"},
		{"negative count", "elements: [{count: -1}]", "negative count"},
		{"negative splits", "elements: [{count: 1}]\ninitialSplits: -2", "negative initialSplits"},
		{"negative claims", "elements: [{count: 1}]\nmaxClaimsPerCall: -1", "negative maxClaimsPerCall"},
		{"split fraction", "elements: [{count: 1}]\nsplit: {fraction: 1}", "split fraction"},
		{"window kind", "elements: [{count: 1}]\nwindow: {kind: tumbling}", "unknown window kind"},
		{"fixed size", "elements: [{count: 1}]\nwindow: {kind: fixed}", "positive size"},
		{"sliding period", "elements: [{count: 1}]\nwindow: {kind: sliding, size: 1s}", "positive size and period"},
		{"session gap", "elements: [{count: 1}]\nwindow: {kind: sessions}", "positive gap"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(test.data))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("ParseConfig() error = %v, want it to contain %q", err, test.want)
			}
		})
	}
}

func TestRunOptions(t *testing.T) {
	cfg := &Config{
		Experiments: []string{runtime.ExperimentOutputsPerElementCounter},
		Options:     map[string]string{"experiments": "beam_fn_api", "job_name": "test"},
	}
	opts := cfg.RunOptions()
	if diff := cmp.Diff([]string{"beam_fn_api", runtime.ExperimentOutputsPerElementCounter}, opts.Experiments()); diff != "" {
		t.Errorf("Experiments() diff (-want +got):\n%v", diff)
	}
	if got := opts.Get("job_name"); got != "test" {
		t.Errorf("Get(job_name) = %q, want test", got)
	}
	if cfg.Options["experiments"] != "beam_fn_api" {
		t.Errorf("RunOptions() modified the configured options: %v", cfg.Options)
	}
}
