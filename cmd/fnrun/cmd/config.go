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
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph/window"
	"github.com/apache/beam-fnexec/pkg/beam/core/runtime"
)

// Config is the content of a run file.
type Config struct {
	// Step names the DoFn in logs, errors and metrics.
	Step     string          `yaml:"step"`
	Window   WindowConfig    `yaml:"window"`
	Elements []ElementConfig `yaml:"elements"`

	// InitialSplits is the number of parts the restriction of every element
	// is split into before processing. Zero or one means no split.
	InitialSplits int64 `yaml:"initialSplits"`
	// MaxClaimsPerCall makes the DoFn defer its remaining work after that
	// many claims. Zero means no limit.
	MaxClaimsPerCall int64 `yaml:"maxClaimsPerCall"`
	// ClaimDelay is how long the DoFn pauses after each claim.
	ClaimDelay time.Duration `yaml:"claimDelay"`

	Split SplitConfig `yaml:"split"`

	Experiments []string          `yaml:"experiments"`
	Options     map[string]string `yaml:"options"`
}

// WindowConfig selects the window fn used to window the input elements and
// re-window timestamped outputs.
type WindowConfig struct {
	Kind   string        `yaml:"kind"`
	Size   time.Duration `yaml:"size"`
	Period time.Duration `yaml:"period"`
	Gap    time.Duration `yaml:"gap"`
}

// ElementConfig is one input element: the DoFn emits the offsets [0, Count).
type ElementConfig struct {
	Count int64 `yaml:"count"`
	// Timestamp in milliseconds since the epoch.
	Timestamp int64 `yaml:"timestamp"`
}

// SplitConfig describes the split requested while an element is in
// flight. No split is requested if Fraction is zero.
type SplitConfig struct {
	Fraction float64 `yaml:"fraction"`
	// After is the number of claimed offsets to wait for before splitting.
	After int64 `yaml:"after"`
	// Poll is the interval between progress checks.
	Poll time.Duration `yaml:"poll"`
}

// LoadConfig reads and validates the run file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates a run file. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("invalid run file: %w", err)
	}
	if c.Step == "" {
		c.Step = "RangeEmitter"
	}
	if c.Split.Poll == 0 {
		c.Split.Poll = time.Millisecond
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if len(c.Elements) == 0 {
		return fmt.Errorf("run file has no elements")
	}
	for i, e := range c.Elements {
		if e.Count < 0 {
			return fmt.Errorf("element %d: negative count %d", i, e.Count)
		}
	}
	if c.InitialSplits < 0 {
		return fmt.Errorf("negative initialSplits %d", c.InitialSplits)
	}
	if c.MaxClaimsPerCall < 0 {
		return fmt.Errorf("negative maxClaimsPerCall %d", c.MaxClaimsPerCall)
	}
	if c.Split.Fraction < 0 || c.Split.Fraction >= 1 {
		return fmt.Errorf("split fraction %v must be in [0, 1)", c.Split.Fraction)
	}
	_, err := c.WindowFn()
	return err
}

// WindowFn returns the configured window fn.
func (c *Config) WindowFn() (*window.Fn, error) {
	kind, err := window.ParseKind(c.Window.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case window.FixedWindows:
		if c.Window.Size <= 0 {
			return nil, fmt.Errorf("fixed windows need a positive size")
		}
		return window.NewFixedWindows(c.Window.Size), nil
	case window.SlidingWindows:
		if c.Window.Size <= 0 || c.Window.Period <= 0 {
			return nil, fmt.Errorf("sliding windows need a positive size and period")
		}
		return window.NewSlidingWindows(c.Window.Period, c.Window.Size), nil
	case window.Sessions:
		if c.Window.Gap <= 0 {
			return nil, fmt.Errorf("sessions need a positive gap")
		}
		return window.NewSessions(c.Window.Gap), nil
	default:
		return window.NewGlobalWindows(), nil
	}
}

// RunOptions returns read-only options holding the configured options and
// experiments.
func (c *Config) RunOptions() *runtime.Options {
	raw := make(map[string]string, len(c.Options)+1)
	for k, v := range c.Options {
		raw[k] = v
	}
	if len(c.Experiments) > 0 {
		exps := append([]string(nil), c.Experiments...)
		if prev := raw["experiments"]; prev != "" {
			exps = append(exps, strings.Split(prev, ",")...)
		}
		sort.Strings(exps)
		raw["experiments"] = strings.Join(exps, ",")
	}
	opts := runtime.NewOptions()
	opts.Import(runtime.RawOptions{Options: raw})
	return opts
}
