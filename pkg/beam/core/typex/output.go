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

package typex

// TaggedOutput routes Value to the receiver registered for Tag. Tag must be
// a string; other tag types are rejected when the output is dispatched.
type TaggedOutput struct {
	Tag   any
	Value any
}

// Tagged returns a TaggedOutput for the given string tag.
func Tagged(tag string, v any) TaggedOutput {
	return TaggedOutput{Tag: tag, Value: v}
}

// TimestampedValue re-stamps Value. Its windows are re-derived from the
// window function at the new timestamp.
type TimestampedValue struct {
	Value     any
	Timestamp EventTime
}
