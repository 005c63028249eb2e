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

// Package errors contains functionality for creating, classifying and
// wrapping the faults raised by the execution core. Every error carries an
// optional Kind so callers can match on the failure class with errors.Is
// without parsing messages.
package errors

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// New returns an error with the given message.
func New(message string) error {
	return &beamError{msg: message}
}

// Errorf returns an error with a message formatted according to the format
// specifier. A %w verb keeps the wrapped error reachable through Unwrap.
func Errorf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Wrap returns a new error annotating err with a new message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &beamError{
		cause: err,
		msg:   message,
		top:   getTop(err),
	}
}

// Wrapf returns a new error annotating err with a new message according to
// the format specifier.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithContext returns a new error adding additional context to err.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return &beamError{
		cause:   err,
		context: context,
		top:     getTop(err),
	}
}

// WithContextf returns a new error adding additional context to err according
// to the format specifier.
func WithContextf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return WithContext(err, fmt.Sprintf(format, args...))
}

// SetTopLevelMsg returns a new error with the given top level message. The top
// level message is the first error message that gets printed when Error()
// is called on the returned error or any error wrapping it.
func SetTopLevelMsg(err error, top string) error {
	if err == nil {
		return nil
	}
	return &beamError{
		cause: err,
		top:   top,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// Join calls the standard errors.Join.
func Join(errs ...error) error { return errors.Join(errs...) }

func getTop(e error) string {
	var be *beamError
	if errors.As(e, &be) {
		return be.top
	}
	return ""
}

// beamError represents one or more details about an error. They are usually
// nested in the order that additional context was wrapped around the original
// error.
//
// If no cause is present the instance is the original error and msg is set.
// The kind, if any, describes this error and everything it wraps; an outer
// kind takes precedence in Is checks only because it is visited first.
type beamError struct {
	cause   error  // The error being wrapped. If nil then this is the first error.
	context string // Adds additional context to this error and any following.
	msg     string // Message describing an error.
	top     string // The first error message to display to a user. Propagated upwards.
	kind    Kind
}

// Error outputs a beamError as a string. The top-level error message is
// displayed first, followed by each error's context and error message in
// sequence. The original error is output last.
func (e *beamError) Error() string {
	var b strings.Builder
	if e.top != "" {
		fmt.Fprintf(&b, "%s\nFull error:\n", e.top)
	}
	e.printRecursive(&b)
	return b.String()
}

func (e *beamError) printRecursive(b *strings.Builder) {
	wraps := e.cause != nil

	if e.context != "" {
		fmt.Fprintf(b, "\t%s\n", strings.ReplaceAll(e.context, "\n", "\n\t"))
	}
	if e.msg != "" {
		b.WriteString(e.msg)
		if wraps {
			b.WriteString("\n\tcaused by:\n")
		}
	}
	if wraps {
		if be, ok := e.cause.(*beamError); ok {
			be.printRecursive(b)
		} else {
			b.WriteString(e.cause.Error())
		}
	}
}

// Format implements the fmt.Formatter interface
func (e *beamError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v', 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// Unwrap returns the cause of this error if present.
func (e *beamError) Unwrap() error {
	return e.cause
}

// Is matches the Kind sentinels.
func (e *beamError) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.kind != KindUnknown && Kind(k) == e.kind
}
