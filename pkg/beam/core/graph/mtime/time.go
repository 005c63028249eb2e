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

// Package mtime contains the millisecond event-time representation used for
// element timestamps and watermarks. Extreme values outside the range of
// time.Time are needed to express "-infinity" and "+infinity" watermarks.
package mtime

import (
	"math"
	"strconv"
	"time"
)

const (
	// MinTimestamp is "-infinity": the earliest representable event time and
	// the watermark reported when no estimator is present.
	MinTimestamp Time = math.MinInt64 / 1000

	// MaxTimestamp is "+infinity".
	MaxTimestamp Time = math.MaxInt64 / 1000

	// EndOfGlobalWindowTime is the last timestamp in the global window, one
	// day before MaxTimestamp.
	EndOfGlobalWindowTime = MaxTimestamp - 24*60*60*1000

	// ZeroTimestamp corresponds to the unix epoch.
	ZeroTimestamp Time = 0
)

// Time is the number of milliseconds since the Unix epoch, clamped to
// [MinTimestamp, MaxTimestamp].
type Time int64

// Now returns the current wall time.
func Now() Time {
	return FromTime(time.Now())
}

// FromMilliseconds returns a timestamp from a raw milliseconds-since-epoch value.
func FromMilliseconds(ms int64) Time {
	return Normalize(Time(ms))
}

// FromTime returns a millisecond precision timestamp from a time.Time.
func FromTime(t time.Time) Time {
	return Normalize(Time(t.UnixMilli()))
}

// Milliseconds returns the number of milliseconds since the Unix epoch.
func (t Time) Milliseconds() int64 {
	return int64(t)
}

// ToTime converts t to a time.Time in UTC.
func (t Time) ToTime() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// Add returns the time plus the duration, truncated to milliseconds.
func (t Time) Add(d time.Duration) Time {
	return Normalize(Time(int64(t) + d.Milliseconds()))
}

// Subtract returns the time minus the duration.
func (t Time) Subtract(d time.Duration) Time {
	return Normalize(Time(int64(t) - d.Milliseconds()))
}

// Before reports whether t is strictly earlier than o.
func (t Time) Before(o Time) bool { return t < o }

func (t Time) String() string {
	switch t {
	case MinTimestamp:
		return "-inf"
	case MaxTimestamp:
		return "+inf"
	case EndOfGlobalWindowTime:
		return "glo"
	}
	return strconv.FormatInt(int64(t), 10)
}

// Min returns the earlier time.
func Min(a, b Time) Time {
	if a < b {
		return a
	}
	return b
}

// Max returns the later time.
func Max(a, b Time) Time {
	if a < b {
		return b
	}
	return a
}

// Normalize clamps t into [MinTimestamp,MaxTimestamp].
func Normalize(t Time) Time {
	return Min(Max(t, MinTimestamp), MaxTimestamp)
}
