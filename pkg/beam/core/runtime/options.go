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

// Package runtime holds the untyped options that tune the execution core,
// including the experiments that switch optional behavior on.
package runtime

import (
	"sort"
	"strings"
	"sync"
)

// ExperimentOutputsPerElementCounter enables the per-element output count
// distribution of a bundle driver.
const ExperimentOutputsPerElementCounter = "outputs_per_element_counter"

const experimentsKey = "experiments"

// GlobalOptions are the process-wide options, used by drivers that are not
// given options of their own. Global options should be used sparingly.
var GlobalOptions = NewOptions()

// Options are untyped options.
type Options struct {
	mu  sync.Mutex
	opt map[string]string
	ro  bool
}

// NewOptions returns empty, writable options.
func NewOptions() *Options {
	return &Options{opt: make(map[string]string)}
}

// RawOptions represents exported options as serializable data.
type RawOptions struct {
	Options map[string]string `json:"options" yaml:"options"`
}

// Import imports the options from previously exported data and makes the
// options read-only. It panics if import is called twice.
func (o *Options) Import(opt RawOptions) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ro {
		panic("import failed: options read-only")
	}
	o.ro = true
	o.opt = copyMap(opt.Options)
}

// Get returns the value of the key. If the key has not been set, it returns "".
func (o *Options) Get(key string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opt[key]
}

// Set defines the value of the given key. Read-only options ignore it.
func (o *Options) Set(key, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ro {
		return
	}
	o.opt[key] = value
}

// Export returns a serializable copy of the options.
func (o *Options) Export() RawOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return RawOptions{Options: copyMap(o.opt)}
}

// Experiments returns the enabled experiments, sorted.
func (o *Options) Experiments() []string {
	raw := o.Get(experimentsKey)
	if raw == "" {
		return nil
	}
	var ret []string
	for _, e := range strings.Split(raw, ",") {
		if e = strings.TrimSpace(e); e != "" {
			ret = append(ret, e)
		}
	}
	sort.Strings(ret)
	return ret
}

// HasExperiment reports whether the named experiment is enabled.
func (o *Options) HasExperiment(name string) bool {
	for _, e := range o.Experiments() {
		if e == name || strings.HasPrefix(e, name+"=") {
			return true
		}
	}
	return false
}

// AddExperiment enables the named experiment.
func (o *Options) AddExperiment(name string) {
	if o.HasExperiment(name) {
		return
	}
	o.Set(experimentsKey, strings.Join(append(o.Experiments(), name), ","))
}

func copyMap(m map[string]string) map[string]string {
	ret := make(map[string]string, len(m))
	for k, v := range m {
		ret[k] = v
	}
	return ret
}
