////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/crypto/blake2b"

	"gitlab.com/nesmo/connect/session"
	"gitlab.com/nesmo/connect/storage/archive"
)

const (
	privatePrefix = "dm-"
	groupPrefix   = "group-"
	privateIDLen  = 16
)

// Creator contains the methods of [archive.Store] that create conversations.
type Creator interface {
	CreatePrivateChat(ctx context.Context, conversationID string,
		a, b archive.Participant) error
	CreateGroupChat(ctx context.Context, conversationID string,
		participantIDs []string, kind archive.Kind, title string,
		names []string) error
}

// Updater contains the methods of [archive.Store] that edit a group.
type Updater interface {
	GetConversation(ctx context.Context, conversationID string) (
		*archive.Conversation, error)
	UpdateGroup(ctx context.Context, conversationID, title string,
		participants []archive.Participant) error
}

// PrivateConversationID returns the id of the one-to-one conversation between
// two users. It does not depend on the order of the arguments.
func PrivateConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	h, _ := blake2b.New(privateIDLen, nil)
	// Length prefixes keep ("ab","c") and ("a","bc") apart
	for _, uid := range []string{a, b} {
		h.Write([]byte(strconv.Itoa(len(uid))))
		h.Write([]byte{':'})
		h.Write([]byte(uid))
	}
	return privatePrefix + hex.EncodeToString(h.Sum(nil))
}

// OpenPrivate returns the conversation between the signed-in user and other,
// creating it on first contact.
func OpenPrivate(ctx context.Context, store Creator, me session.Identity,
	other archive.Participant) (string, error) {
	if !me.Known() {
		return "", ErrUnknownIdentity
	}
	conversationID := PrivateConversationID(me.UID, other.UserId)
	err := store.CreatePrivateChat(ctx, conversationID,
		archive.Participant{UserId: me.UID, DisplayName: me.Name}, other)
	if err != nil {
		return "", errors.WithMessagef(err,
			"failed to open conversation with %s", other.UserId)
	}
	jww.DEBUG.Printf("[CHAT] Opened private conversation %s with %s",
		conversationID, other.UserId)
	return conversationID, nil
}

// CreateGroup creates a group conversation with the signed-in user and the
// given members and returns its id.
func CreateGroup(ctx context.Context, store Creator, me session.Identity,
	title string, members []archive.Participant) (string, error) {
	if !me.Known() {
		return "", ErrUnknownIdentity
	}

	ids := []string{me.UID}
	names := []string{me.Name}
	for _, m := range members {
		if m.UserId == me.UID {
			continue
		}
		ids = append(ids, m.UserId)
		names = append(names, m.DisplayName)
	}

	conversationID := groupPrefix + uuid.NewString()
	err := store.CreateGroupChat(ctx, conversationID, ids, archive.Group,
		title, names)
	if err != nil {
		return "", errors.WithMessagef(err, "failed to create group %q", title)
	}
	jww.INFO.Printf("[CHAT] Created group %q (%s) with %d members", title,
		conversationID, len(ids))
	return conversationID, nil
}

// UpdateGroup renames a group the signed-in user belongs to and, if members
// is not nil, replaces its membership. An empty title keeps the current one.
// The signed-in user always stays a member.
func UpdateGroup(ctx context.Context, store Updater, me session.Identity,
	conversationID, title string, members []archive.Participant) error {
	if !me.Known() {
		return ErrUnknownIdentity
	}

	convo, err := store.GetConversation(ctx, conversationID)
	if errors.Is(err, archive.ErrNotFound) {
		return errors.WithMessagef(ErrNotFound, "%q", conversationID)
	} else if err != nil {
		return err
	}

	var self *archive.Participant
	for i := range convo.Participants {
		if convo.Participants[i].UserId == me.UID {
			self = &convo.Participants[i]
			break
		}
	}
	if self == nil {
		return errors.WithMessagef(ErrNotFound,
			"%s is not a participant of %q", me.UID, conversationID)
	}

	if title == "" {
		title = convo.Title
	}

	var participants []archive.Participant
	if members != nil {
		participants = []archive.Participant{
			{UserId: me.UID, DisplayName: self.DisplayName}}
		seen := map[string]bool{me.UID: true}
		for _, m := range members {
			if seen[m.UserId] {
				continue
			}
			seen[m.UserId] = true
			participants = append(participants, archive.Participant{
				UserId: m.UserId, DisplayName: m.DisplayName})
		}
	}

	err = store.UpdateGroup(ctx, conversationID, title, participants)
	if err != nil {
		return errors.WithMessagef(err, "failed to update group %q",
			conversationID)
	}
	jww.INFO.Printf("[CHAT] Updated group %s (title %q, members replaced: %t)",
		conversationID, title, members != nil)
	return nil
}

// Title returns the display title of a conversation for uid: the group title
// if set, otherwise the names of the other participants.
func Title(convo archive.Conversation, uid string) string {
	if convo.Title != "" {
		return convo.Title
	}
	names := make([]string, 0, len(convo.Participants))
	for _, p := range convo.Participants {
		if p.UserId != uid {
			names = append(names, p.DisplayName)
		}
	}
	return strings.Join(names, ", ")
}

// Search returns the conversations matching the search query recorded in the
// application context. A conversation matches if its id, title or the name
// of any participant contains the query, ignoring case. An empty query
// matches everything.
func Search(app *session.Context,
	convos []archive.Conversation) []archive.Conversation {
	query := strings.ToLower(strings.TrimSpace(app.UI().SearchQuery))
	if query == "" {
		return convos
	}
	uid := app.Identity().UID

	matched := make([]archive.Conversation, 0, len(convos))
	for _, convo := range convos {
		fields := []string{convo.Id, Title(convo, uid)}
		for _, p := range convo.Participants {
			fields = append(fields, p.DisplayName)
		}
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), query) {
				matched = append(matched, convo)
				break
			}
		}
	}
	return matched
}
