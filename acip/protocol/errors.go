/*
Copyright (c) The acip Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable error taxonomy surfaced to collaborators, §7.
type ErrorKind string

// ErrorKind values.
const (
	ErrInvalidParam        ErrorKind = "InvalidParam"
	ErrInvalidState        ErrorKind = "InvalidState"
	ErrProbeFailed         ErrorKind = "ProbeFailed"
	ErrProtocolConflict    ErrorKind = "ProtocolConflict"
	ErrInsufficientQuorum  ErrorKind = "InsufficientQuorum"
	ErrDisseminationFailed ErrorKind = "DisseminationFailed"
	ErrCancelled           ErrorKind = "Cancelled"
	ErrTimeout             ErrorKind = "Timeout"
)

// Error is an ErrorKind paired with the underlying cause, implementing the
// standard error interface so it can be returned and wrapped like any
// other Go error.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error of the given kind, optionally wrapping cause.
func NewError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to "" if err is not
// (or does not wrap) an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
