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

// Package timers contains the timer declarations that units embed as struct
// fields, and the Provider through which timers are set during processing.
package timers

import (
	"reflect"
	"time"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph/mtime"
)

var (
	ProviderType = reflect.TypeOf((*Provider)(nil)).Elem()
	SpecType     = reflect.TypeOf((*Spec)(nil)).Elem()
)

// DefaultCallback is the method invoked when a timer fires, unless its
// declaration names another.
const DefaultCallback = "OnTimer"

// TimeDomainEnum is the time domain a timer fires in.
type TimeDomainEnum int32

const (
	TimeDomainUnspecified TimeDomainEnum = iota
	TimeDomainEventTime
	TimeDomainProcessingTime
)

// TimerMap is a request to set or clear one timer.
type TimerMap struct {
	Family                       string
	Tag                          string
	Clear                        bool
	FireTimestamp, HoldTimestamp mtime.Time
}

// Provider is the unit parameter through which timers are set. It is
// scoped to the key and window of the element being processed.
type Provider interface {
	Set(t TimerMap)
}

// Handle is the storage for the timers of one family, already scoped to a
// key and a window.
type Handle interface {
	Set(t TimerMap) error
}

// Spec is a timer declaration. Units declare specs as exported struct
// fields and implement the callback method named by CallbackName.
type Spec interface {
	TimerFamily() string
	TimerDomain() TimeDomainEnum
	CallbackName() string
}

// Opts are optional settings for a timer.
type Opts struct {
	Tag  string
	Hold time.Time
}

func timerMap(family string, fire time.Time, opts Opts) TimerMap {
	ft := mtime.FromTime(fire)
	tm := TimerMap{Family: family, Tag: opts.Tag, FireTimestamp: ft, HoldTimestamp: ft}
	if !opts.Hold.IsZero() {
		tm.HoldTimestamp = mtime.FromTime(opts.Hold)
	}
	return tm
}

// EventTime is a timer that fires when the input watermark passes its
// firing timestamp.
type EventTime struct {
	Family   string
	Callback string
}

// InEventTime returns an event time timer of the given family.
func InEventTime(family string) EventTime {
	return EventTime{Family: family}
}

// Set sets the timer to fire at firingTimestamp. The output watermark is
// held at the same timestamp.
func (t EventTime) Set(p Provider, firingTimestamp time.Time) {
	p.Set(timerMap(t.Family, firingTimestamp, Opts{}))
}

// SetWithOpts sets the timer with the given tag and hold.
func (t EventTime) SetWithOpts(p Provider, firingTimestamp time.Time, opts Opts) {
	p.Set(timerMap(t.Family, firingTimestamp, opts))
}

// Clear clears the timer with the given tag.
func (t EventTime) Clear(p Provider, tag string) {
	p.Set(TimerMap{Family: t.Family, Tag: tag, Clear: true})
}

func (t EventTime) TimerFamily() string { return t.Family }

func (t EventTime) TimerDomain() TimeDomainEnum { return TimeDomainEventTime }

func (t EventTime) CallbackName() string { return callback(t.Callback) }

// ProcessingTime is a timer that fires when wall time passes its firing
// timestamp.
type ProcessingTime struct {
	Family   string
	Callback string
}

// InProcessingTime returns a processing time timer of the given family.
func InProcessingTime(family string) ProcessingTime {
	return ProcessingTime{Family: family}
}

// Set sets the timer to fire at firingTimestamp.
func (t ProcessingTime) Set(p Provider, firingTimestamp time.Time) {
	p.Set(timerMap(t.Family, firingTimestamp, Opts{}))
}

// SetWithOpts sets the timer with the given tag and hold.
func (t ProcessingTime) SetWithOpts(p Provider, firingTimestamp time.Time, opts Opts) {
	p.Set(timerMap(t.Family, firingTimestamp, opts))
}

// Clear clears the timer with the given tag.
func (t ProcessingTime) Clear(p Provider, tag string) {
	p.Set(TimerMap{Family: t.Family, Tag: tag, Clear: true})
}

func (t ProcessingTime) TimerFamily() string { return t.Family }

func (t ProcessingTime) TimerDomain() TimeDomainEnum { return TimeDomainProcessingTime }

func (t ProcessingTime) CallbackName() string { return callback(t.Callback) }

func callback(name string) string {
	if name == "" {
		return DefaultCallback
	}
	return name
}
