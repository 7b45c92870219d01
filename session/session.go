////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package session holds the client state shared by the chat views: who is
// signed in and what the user is looking at. It is passed explicitly to the
// components that need it.
package session

import "sync"

// Identity is the signed-in user as reported by the identity provider.
type Identity struct {
	UID       string
	Name      string
	AvatarURL string
}

// Known returns true if the identity provider has supplied a user.
func (i Identity) Known() bool {
	return i.UID != ""
}

// UIState holds ephemeral view selections.
type UIState struct {
	ActiveConversation string
	SearchQuery        string
}

// Context is the application context handed to each conversation
// controller. The identity is refreshed out of band by the identity provider
// through SetIdentity; readers only call Identity.
type Context struct {
	mux      sync.RWMutex
	identity Identity
	ui       UIState
}

// New returns a Context for the given identity.
func New(identity Identity) *Context {
	return &Context{identity: identity}
}

// Identity returns the current user.
func (c *Context) Identity() Identity {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.identity
}

// SetIdentity replaces the current user, e.g. after sign-in, sign-out or a
// profile refresh.
func (c *Context) SetIdentity(identity Identity) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.identity = identity
}

// UI returns the current view selections.
func (c *Context) UI() UIState {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.ui
}

// SetActiveConversation records the conversation currently on screen. An
// empty id means none.
func (c *Context) SetActiveConversation(conversationID string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.ui.ActiveConversation = conversationID
}

// SetSearchQuery records the current search text.
func (c *Context) SetSearchQuery(query string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.ui.SearchQuery = query
}
