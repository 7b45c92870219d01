////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"sync"
	"sync/atomic"

	jww "github.com/spf13/jwalterweatherman"
)

// Single allows stopping a single goroutine using a channel. The goroutine
// selects on Quit and calls ToStopped as it exits, which it may also do on
// its own when its input runs dry.
type Single struct {
	name   string
	quit   chan struct{}
	status uint32
	once   sync.Once
}

// NewSingle returns a new running Single.
func NewSingle(name string) *Single {
	return &Single{
		name:   name,
		quit:   make(chan struct{}),
		status: uint32(Running),
	}
}

// Name returns the name of the Single.
func (s *Single) Name() string {
	return s.name
}

// GetStatus returns the status of the Single.
func (s *Single) GetStatus() Status {
	return Status(atomic.LoadUint32(&s.status))
}

// IsRunning returns true if the Single is marked as running.
func (s *Single) IsRunning() bool {
	return s.GetStatus() == Running
}

// IsStopping returns true if the Single is marked as stopping.
func (s *Single) IsStopping() bool {
	return s.GetStatus() == Stopping
}

// IsStopped returns true if the Single is marked as stopped.
func (s *Single) IsStopped() bool {
	return s.GetStatus() == Stopped
}

// ToStopped marks the Single as stopped. It is called by the goroutine itself
// on exit, whether or not Close was called first.
func (s *Single) ToStopped() {
	old := Status(atomic.SwapUint32(&s.status, uint32(Stopped)))
	if old == Stopped {
		jww.WARN.Printf("Single stoppable %q marked stopped twice", s.name)
		return
	}
	jww.INFO.Printf("Switched status of single stoppable %q from %s to %s.",
		s.name, old, Stopped)
}

// Quit returns a receive-only channel that is closed when the Single is
// asked to quit.
func (s *Single) Quit() <-chan struct{} {
	return s.quit
}

// Close signals the goroutine to quit. Calling Close more than once, or after
// the goroutine has already stopped itself, is a no-op.
func (s *Single) Close() error {
	s.once.Do(func() {
		if atomic.CompareAndSwapUint32(
			&s.status, uint32(Running), uint32(Stopping)) {
			jww.INFO.Printf("Switched status of single stoppable %q "+
				"from %s to %s.", s.name, Running, Stopping)
		}
		jww.TRACE.Printf("Closing quit channel of single stoppable %q.",
			s.name)
		close(s.quit)
	})
	return nil
}
