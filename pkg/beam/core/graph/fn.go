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

// Package graph builds the validated signature of a user element-processing
// unit (a DoFn): the classified parameters of each lifecycle method, its
// declared state and timers, and its splittable capabilities.
package graph

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/apache/beam-fnexec/pkg/beam/core/funcx"
	"github.com/apache/beam-fnexec/pkg/beam/core/sdf"
	"github.com/apache/beam-fnexec/pkg/beam/core/state"
	"github.com/apache/beam-fnexec/pkg/beam/core/timers"
	"github.com/apache/beam-fnexec/pkg/beam/core/util/reflectx"
	"github.com/apache/beam-fnexec/pkg/beam/internal/errors"
)

// Signature method names.
const (
	setupName          = "Setup"
	startBundleName    = "StartBundle"
	processElementName = "ProcessElement"
	finishBundleName   = "FinishBundle"
	teardownName       = "Teardown"
)

var lifecycleNames = []string{setupName, startBundleName, processElementName, finishBundleName, teardownName}

// Roles a timer callback may declare.
var callbackRoles = map[funcx.ParamRole]bool{
	funcx.RoleContext:   true,
	funcx.RoleKey:       true,
	funcx.RoleWindow:    true,
	funcx.RoleTimestamp: true,
	funcx.RoleState:     true,
	funcx.RoleTimer:     true,
}

// DoFn is the validated signature of one unit instance. It is immutable
// after NewDoFn returns.
type DoFn struct {
	Recv any
	name string

	methods   map[string]*funcx.Fn
	callbacks map[string]*funcx.Fn // by timer family

	stateSpecs []state.Spec
	timerSpecs []timers.Spec

	rp  sdf.RestrictionProvider
	wep sdf.WatermarkEstimatorProvider
}

// NewDoFn constructs and validates the signature of fn, which is either a
// function, used as the process method, or a pointer to a struct whose
// exported methods are the lifecycle methods. All structural faults are
// reported here as signature errors, so that invocation never fails for a
// structural reason.
func NewDoFn(fn any) (*DoFn, error) {
	d, err := newDoFn(fn)
	if err != nil {
		return nil, errors.WithContext(err, "constructing DoFn")
	}
	if err := d.validate(); err != nil {
		return nil, errors.WithContextf(err, "validating DoFn %v", d.name)
	}
	return d, nil
}

func newDoFn(fn any) (*DoFn, error) {
	if fn == nil {
		return nil, errors.SignatureErrorf("DoFn must not be nil")
	}
	d := &DoFn{Recv: fn, methods: make(map[string]*funcx.Fn), callbacks: make(map[string]*funcx.Fn)}

	val := reflect.ValueOf(fn)
	switch val.Kind() {
	case reflect.Func:
		d.name = reflectx.FunctionName(fn)
		f, err := funcx.New(reflectx.MakeFunc(fn))
		if err != nil {
			return nil, errors.Wrapf(err, "function %v invalid", d.name)
		}
		d.methods[processElementName] = f
		return d, nil

	case reflect.Ptr:
		if val.Elem().Kind() != reflect.Struct {
			return nil, errors.SignatureErrorf("value %v must be a function or a pointer to struct", fn)
		}
		d.name = val.Elem().Type().String()
		for _, name := range lifecycleNames {
			m := val.MethodByName(name)
			if !m.IsValid() {
				continue
			}
			f, err := funcx.New(reflectx.MakeFuncValue(d.name+"."+name, m))
			if err != nil {
				return nil, errors.Wrapf(err, "method %v invalid", name)
			}
			d.methods[name] = f
		}
		if err := d.scanFields(val.Elem()); err != nil {
			return nil, err
		}
		if err := d.bindCallbacks(val); err != nil {
			return nil, err
		}
		d.rp, _ = fn.(sdf.RestrictionProvider)
		d.wep, _ = fn.(sdf.WatermarkEstimatorProvider)
		return d, nil

	default:
		return nil, errors.SignatureErrorf("value %v must be a function or a pointer to struct", fn)
	}
}

// scanFields collects state and timer declarations from exported fields. A
// declaration with an empty key or family is named after its field.
func (d *DoFn) scanFields(v reflect.Value) error {
	t := v.Type()
	stateKeys := map[string]bool{}
	families := map[string]bool{}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Interface && fv.IsNil() {
			continue
		}
		switch {
		case sf.Type.Implements(state.SpecType):
			if fv.Interface().(state.Spec).StateKey() == "" {
				nameAfterField(fv, "Key", sf.Name)
			}
			s := fv.Interface().(state.Spec)
			if stateKeys[s.StateKey()] {
				return errors.SignatureErrorf("duplicate state key %q on field %v", s.StateKey(), sf.Name)
			}
			stateKeys[s.StateKey()] = true
			d.stateSpecs = append(d.stateSpecs, s)

		case sf.Type.Implements(timers.SpecType):
			if fv.Interface().(timers.Spec).TimerFamily() == "" {
				nameAfterField(fv, "Family", sf.Name)
			}
			s := fv.Interface().(timers.Spec)
			if families[s.TimerFamily()] {
				return errors.SignatureErrorf("duplicate timer family %q on field %v", s.TimerFamily(), sf.Name)
			}
			families[s.TimerFamily()] = true
			d.timerSpecs = append(d.timerSpecs, s)
		}
	}
	return nil
}

func nameAfterField(fv reflect.Value, key, name string) {
	if fv.Kind() != reflect.Struct {
		return
	}
	if k := fv.FieldByName(key); k.IsValid() && k.CanSet() && k.Kind() == reflect.String {
		k.SetString(name)
	}
}

func (d *DoFn) bindCallbacks(recv reflect.Value) error {
	for _, s := range d.timerSpecs {
		name := s.CallbackName()
		m := recv.MethodByName(name)
		if !m.IsValid() {
			return errors.SignatureErrorf("timer family %q has no callback method %v", s.TimerFamily(), name)
		}
		f, err := funcx.New(reflectx.MakeFuncValue(d.name+"."+name, m))
		if err != nil {
			return errors.Wrapf(err, "timer callback %v invalid", name)
		}
		d.callbacks[s.TimerFamily()] = f
	}
	return nil
}

func (d *DoFn) validate() error {
	processFn, ok := d.methods[processElementName]
	if !ok {
		err := errors.SignatureErrorf("failed to find %v method", processElementName)
		return errors.SetTopLevelMsg(err, fmt.Sprintf("DoFn %v must have a %v method.", d.name, processElementName))
	}
	for _, name := range lifecycleNames {
		if f, ok := d.methods[name]; ok {
			if err := noDuplicateRoles(name, f); err != nil {
				return err
			}
		}
	}

	// Bundle and lifecycle methods may only take a context.
	for _, name := range []string{setupName, startBundleName, finishBundleName, teardownName} {
		f, ok := d.methods[name]
		if !ok {
			continue
		}
		for i, p := range f.Param {
			if p.Role.IsProcessOnly() {
				return errors.SignatureErrorf("method %v parameter %d has role %v, which is only valid in %v", name, i, p.Role, processElementName)
			}
		}
	}
	for _, name := range []string{setupName, teardownName} {
		if f, ok := d.methods[name]; ok {
			if _, _, outputs := f.Outputs(); outputs {
				return errors.SignatureErrorf("method %v may only return an error", name)
			}
		}
	}

	if _, ok := processFn.Role(funcx.RoleRestriction); ok && d.rp == nil {
		return errors.SignatureErrorf("%v takes a restriction tracker but %v does not implement sdf.RestrictionProvider", processElementName, d.name)
	}
	if _, ok := processFn.Role(funcx.RoleWatermarkEstimator); ok {
		if d.wep == nil {
			return errors.SignatureErrorf("%v takes a watermark estimator but %v does not implement sdf.WatermarkEstimatorProvider", processElementName, d.name)
		}
		if !d.IsSplittable() {
			return errors.SignatureErrorf("%v takes a watermark estimator but is not splittable", processElementName)
		}
	}

	if err := d.validateStateful(processFn, processElementName); err != nil {
		return err
	}
	for _, family := range d.sortedFamilies() {
		cb := d.callbacks[family]
		name := cb.Name()
		if err := noDuplicateRoles(name, cb); err != nil {
			return err
		}
		for i, p := range cb.Param {
			if !callbackRoles[p.Role] {
				return errors.SignatureErrorf("timer callback %v parameter %d has role %v, which is not valid in a timer callback", name, i, p.Role)
			}
		}
		if err := d.validateStateful(cb, name); err != nil {
			return err
		}
	}
	return nil
}

func (d *DoFn) validateStateful(f *funcx.Fn, name string) error {
	if _, ok := f.Role(funcx.RoleState); ok && len(d.stateSpecs) == 0 {
		return errors.SignatureErrorf("%v takes a state provider but %v declares no state", name, d.name)
	}
	if _, ok := f.Role(funcx.RoleTimer); ok && len(d.timerSpecs) == 0 {
		return errors.SignatureErrorf("%v takes a timer provider but %v declares no timers", name, d.name)
	}
	return nil
}

func noDuplicateRoles(name string, f *funcx.Fn) error {
	seen := map[funcx.ParamRole]int{}
	for i, p := range f.Param {
		if p.Role == funcx.RoleValue {
			continue
		}
		if j, ok := seen[p.Role]; ok {
			return errors.SignatureErrorf("method %v declares role %v twice, at parameters %d and %d", name, p.Role, j, i)
		}
		seen[p.Role] = i
	}
	return nil
}

func (d *DoFn) sortedFamilies() []string {
	ret := make([]string, 0, len(d.callbacks))
	for f := range d.callbacks {
		ret = append(ret, f)
	}
	sort.Strings(ret)
	return ret
}

// Name returns the name of the unit.
func (d *DoFn) Name() string {
	return d.name
}

// SetupFn returns the "Setup" function, if present.
func (d *DoFn) SetupFn() *funcx.Fn {
	return d.methods[setupName]
}

// StartBundleFn returns the "StartBundle" function, if present.
func (d *DoFn) StartBundleFn() *funcx.Fn {
	return d.methods[startBundleName]
}

// ProcessElementFn returns the "ProcessElement" function.
func (d *DoFn) ProcessElementFn() *funcx.Fn {
	return d.methods[processElementName]
}

// FinishBundleFn returns the "FinishBundle" function, if present.
func (d *DoFn) FinishBundleFn() *funcx.Fn {
	return d.methods[finishBundleName]
}

// TeardownFn returns the "Teardown" function, if present.
func (d *DoFn) TeardownFn() *funcx.Fn {
	return d.methods[teardownName]
}

// TimerCallback returns the callback for the timer family, if declared.
func (d *DoFn) TimerCallback(family string) (*funcx.Fn, bool) {
	f, ok := d.callbacks[family]
	return f, ok
}

// TimerSpec returns the declaration of the timer family, if any.
func (d *DoFn) TimerSpec(family string) (timers.Spec, bool) {
	for _, s := range d.timerSpecs {
		if s.TimerFamily() == family {
			return s, true
		}
	}
	return nil, false
}

// StateSpecs returns the declared state cells in field order.
func (d *DoFn) StateSpecs() []state.Spec {
	return d.stateSpecs
}

// TimerSpecs returns the declared timers in field order.
func (d *DoFn) TimerSpecs() []timers.Spec {
	return d.timerSpecs
}

// RestrictionProvider returns the unit as a restriction provider, or nil.
func (d *DoFn) RestrictionProvider() sdf.RestrictionProvider {
	return d.rp
}

// WatermarkEstimatorProvider returns the unit as a watermark estimator
// provider, or nil.
func (d *DoFn) WatermarkEstimatorProvider() sdf.WatermarkEstimatorProvider {
	return d.wep
}

// IsSplittable reports whether the process method takes a restriction
// tracker.
func (d *DoFn) IsSplittable() bool {
	_, ok := d.ProcessElementFn().Role(funcx.RoleRestriction)
	return ok
}

// IsStateful reports whether the unit declares state or timers.
func (d *DoFn) IsStateful() bool {
	return len(d.stateSpecs) > 0 || len(d.timerSpecs) > 0
}

// Signature returns the parameter roles of every present method, including
// timer callbacks keyed as "OnTimer[family]".
func (d *DoFn) Signature() map[string][]funcx.ParamRole {
	ret := make(map[string][]funcx.ParamRole, len(d.methods)+len(d.callbacks))
	for name, f := range d.methods {
		ret[name] = f.Roles()
	}
	for family, f := range d.callbacks {
		ret[fmt.Sprintf("OnTimer[%v]", family)] = f.Roles()
	}
	return ret
}

func (d *DoFn) String() string {
	return fmt.Sprintf("DoFn[%v]", d.name)
}
