////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrTransport is the kind of every error returned by the Transport. Test for
// it with errors.Is; the store error is available through errors.Unwrap.
var ErrTransport = errors.New("transport operation failed")

// ErrMessageNotFound is the cause of a delete whose message was no longer in
// the store, for instance because a peer moved it to the archive.
var ErrMessageNotFound = errors.New("message not found")

// Error is a failed store operation.
type Error struct {
	Op  string
	Err error
}

// Error returns the operation and cause.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport, e.Op, e.Err)
}

// Unwrap returns the store error.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *Error) Is(target error) bool { return target == ErrTransport }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
