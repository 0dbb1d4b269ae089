// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested story or artifact does not exist.
// It is a normal outcome and is never logged as an error.
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable marks connection and transport failures. They are
// fatal to the current call.
var ErrStoreUnavailable = errors.New("store unavailable")

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// NotFound builds an ErrNotFound error naming the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
