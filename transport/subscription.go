////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// Subscription is a stream of complete live snapshots of one conversation.
// Each snapshot supersedes the previous one, so a consumer that falls behind
// only receives the newest snapshot.
type Subscription struct {
	conversationID string
	updates        chan []LiveMessage
	unsubscribe    func()

	mux    sync.Mutex
	closed bool
	once   sync.Once
}

func newSubscription(conversationID string) *Subscription {
	return &Subscription{
		conversationID: conversationID,
		updates:        make(chan []LiveMessage, 1),
	}
}

// Updates returns the snapshot stream. It is closed by Close.
func (s *Subscription) Updates() <-chan []LiveMessage {
	return s.updates
}

// ConversationID returns the conversation the subscription follows.
func (s *Subscription) ConversationID() string {
	return s.conversationID
}

// Close stops the stream and releases the store listener. It may be called
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.mux.Lock()
		s.closed = true
		close(s.updates)
		s.mux.Unlock()
		jww.DEBUG.Printf("[TRANSPORT] Unsubscribed from %s", s.conversationID)
	})
}

// deliver replaces any unread snapshot with the new one. It never blocks.
func (s *Subscription) deliver(snapshot []LiveMessage) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.closed {
		return
	}

	select {
	case <-s.updates:
		jww.TRACE.Printf("[TRANSPORT] Dropped stale snapshot of %s",
			s.conversationID)
	default:
	}
	select {
	case s.updates <- snapshot:
	default:
	}
}
