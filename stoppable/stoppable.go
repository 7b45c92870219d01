////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable tracks the lifecycle of long-running goroutines so their
// owners can stop them and wait for them to exit.
package stoppable

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Stoppable is a goroutine that can be asked to stop.
type Stoppable interface {
	Close() error
	IsRunning() bool
	IsStopped() bool
	Name() string
}

// Status holds the current state of a Stoppable.
type Status uint32

const (
	Running Status = iota
	Stopping
	Stopped
)

// String prints a string representation of the Status. This function
// satisfies the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "INVALID STATUS: " + strconv.FormatUint(uint64(s), 10)
	}
}

// Interval between status checks in WaitForStopped.
const pollInterval = time.Millisecond

// WaitForStopped polls the Stoppable until it is stopped or the timeout
// elapses.
func WaitForStopped(s Stoppable, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !s.IsStopped() {
		select {
		case <-deadline.C:
			return errors.Errorf(
				"timed out after %s waiting for %q to stop", timeout, s.Name())
		case <-ticker.C:
		}
	}
	return nil
}
