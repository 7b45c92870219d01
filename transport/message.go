////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package transport

// Attachment describes a file attached to a message.
type Attachment struct {
	FileID   string `json:"fileId"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
}

// Envelope holds the fields common to every stored message. Ciphertext is
// the encrypted body; plaintext is never stored. Timestamp is milliseconds
// since the epoch as assigned by the sending client.
type Envelope struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Ciphertext     string
	Attachment     *Attachment
	Timestamp      int64
}

// Watermark is a paging cursor into the archive. Messages sort by Timestamp
// and then by ID, so messages sharing a timestamp never straddle a page
// boundary unseen.
type Watermark struct {
	Timestamp int64
	ID        string
}

// Before reports whether w sorts strictly before o.
func (w Watermark) Before(o Watermark) bool {
	if w.Timestamp != o.Timestamp {
		return w.Timestamp < o.Timestamp
	}
	return w.ID < o.ID
}

// Cursor returns the paging cursor positioned at the message.
func (e Envelope) Cursor() Watermark {
	return Watermark{Timestamp: e.Timestamp, ID: e.ID}
}

// Message is a message in exactly one of the two stores. It is either a
// LiveMessage or an ArchivedMessage; switch on the concrete type to route
// store operations.
type Message interface {
	// Base returns the stored fields of the message.
	Base() Envelope

	isMessage()
}

// LiveMessage is held by the live store.
type LiveMessage struct {
	Envelope
}

// Base returns the stored fields of the message.
func (m LiveMessage) Base() Envelope { return m.Envelope }

func (LiveMessage) isMessage() {}

// ArchivedMessage is held by the archive store.
type ArchivedMessage struct {
	Envelope
}

// Base returns the stored fields of the message.
func (m ArchivedMessage) Base() Envelope { return m.Envelope }

func (ArchivedMessage) isMessage() {}

// liveRecord is the JSON layout of a message body in the live store. The id
// and conversation come from the live path.
type liveRecord struct {
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}
