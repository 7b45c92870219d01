////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"strconv"

	"gitlab.com/nesmo/connect/transport"
)

// State is the lifecycle state of a Controller.
type State uint8

const (
	// StateIdle is a controller that has not been activated.
	StateIdle State = iota

	// StateInitializing is a controller validating its conversation.
	StateInitializing

	// StateLive is a controller following the live tail.
	StateLive

	// StateFailed is a controller whose conversation could not be shown. It
	// is terminal.
	StateFailed

	// StateUnmounted is a closed controller. It is terminal.
	StateUnmounted
)

// String returns a human-readable name for the State. Used for debugging and
// logging. This function adheres to the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitializing:
		return "Initializing"
	case StateLive:
		return "Live"
	case StateFailed:
		return "Failed"
	case StateUnmounted:
		return "Unmounted"
	default:
		return "INVALID STATE: " + strconv.Itoa(int(s))
	}
}

// Outcome tells the caller of an intent whether it was carried out. An intent
// that is skipped by policy (a guard is held, nothing to send, nothing more
// to load) returns OutcomeSkipped with a nil error. A failed intent returns a
// non-nil error.
type Outcome uint8

const (
	OutcomeSkipped Outcome = iota
	OutcomeApplied
	OutcomeFailed
)

// String adheres to the fmt.Stringer interface.
func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "Skipped"
	case OutcomeApplied:
		return "Applied"
	case OutcomeFailed:
		return "Failed"
	default:
		return "INVALID OUTCOME: " + strconv.Itoa(int(o))
	}
}

// Placeholder texts shown in place of a body that cannot be decrypted.
const (
	UnavailableText = "message unavailable"
	UnprocessedText = "unable to process message"
)

// ViewMessage is one row of the rendered transcript.
type ViewMessage struct {
	// Message is the underlying live or archived message. It is the value to
	// pass to Controller.Delete.
	Message transport.Message

	// Text is the decrypted body, or a placeholder if Unavailable is set.
	Text string

	// Unavailable is set when the body could not be decrypted.
	Unavailable bool

	// IsMine is set when the signed-in user sent the message.
	IsMine bool

	// IsDeleted is set once the message has been deleted from its store.
	// Deleted messages stay in the view so the presentation can hide them.
	IsDeleted bool
}

// Draft is the composer content.
type Draft struct {
	Text       string
	Attachment *Upload
}

// Upload is a file staged in the composer.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// empty returns true if there is nothing to send.
func (d Draft) empty() bool {
	return isBlank(d.Text) && d.Attachment == nil
}
