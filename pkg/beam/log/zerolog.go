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

import (
	"context"

	"github.com/rs/zerolog"
)

// Zerolog adapts a zerolog.Logger to the Logger interface. Context fields
// are added as string fields on each event.
type Zerolog struct {
	L zerolog.Logger
}

// NewZerolog returns a Zerolog backend around l.
func NewZerolog(l zerolog.Logger) *Zerolog {
	return &Zerolog{L: l}
}

func (z *Zerolog) event(sev Severity) *zerolog.Event {
	switch sev {
	case SevDebug:
		return z.L.Debug()
	case SevWarn:
		return z.L.Warn()
	case SevError:
		return z.L.Error()
	case SevFatal:
		// WithLevel avoids zerolog's own os.Exit on Fatal.
		return z.L.WithLevel(zerolog.FatalLevel)
	default:
		return z.L.Info()
	}
}

// Log writes msg as a zerolog event at the matching level.
func (z *Zerolog) Log(ctx context.Context, sev Severity, _ int, msg string) {
	e := z.event(sev)
	if e == nil {
		return
	}
	for _, f := range Fields(ctx) {
		e = e.Str(f.Key, f.Value)
	}
	e.Msg(msg)
}
