////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package archive

import (
	"context"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// Can be provided to SqlLite to create a temporary, in-memory DB.
	temporaryDbPath = "file:%s?mode=memory&cache=shared&_foreign_keys=on"

	// Appended to file paths without parameters.
	foreignKeysParam = "?_foreign_keys=on"

	// Determines maximum runtime of DB queries.
	dbTimeout = 3 * time.Second
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrNotGroup is returned when a group-only change is applied to a
	// private conversation.
	ErrNotGroup = errors.New("conversation is not a group")
)

// Error messages.
const (
	getConversationErr = "failed to get conversation %q"
	createChatErr      = "failed to create conversation %q"
	updateGroupErr     = "failed to update group %q"
	listErr            = "failed to list conversations of %q"
	fetchMessagesErr   = "failed to fetch messages of %q before %d"
	upsertMessagesErr  = "failed to upsert %d messages"
	getMessagesErr     = "failed to get messages of %q"
	deleteMessageErr   = "failed to delete message %q of %q"
	checkChatExistsErr = "failed to check membership of %q in %q"
	minGroupMembersErr = "group needs at least %d participants, got %d"
	namesMismatchErr   = "got %d names for %d participants"
	privateIsPairErr   = "private conversation needs two distinct participants"
)

// Smallest membership of a group conversation.
const minGroupMembers = 2

// newContext builds a context for database operations.
func newContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, dbTimeout)
}

// GetConversation returns the conversation with its participants, or
// ErrNotFound.
func (s *Store) GetConversation(
	ctx context.Context, conversationID string) (*Conversation, error) {
	jww.TRACE.Printf("[ARCHIVE] GetConversation(%s)", conversationID)

	result := &Conversation{}
	ctx, cancel := newContext(ctx)
	err := s.db.WithContext(ctx).Preload("Participants").
		Take(result, "id = ?", conversationID).Error
	cancel()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.WithMessagef(ErrNotFound, "%q", conversationID)
	} else if err != nil {
		return nil, errors.Wrapf(err, getConversationErr, conversationID)
	}
	return result, nil
}

// CheckChatExists returns true if the conversation exists and uid is one of
// its participants.
func (s *Store) CheckChatExists(
	ctx context.Context, conversationID, uid string) (bool, error) {
	var count int64
	ctx, cancel := newContext(ctx)
	err := s.db.WithContext(ctx).Model(&Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, uid).
		Count(&count).Error
	cancel()
	if err != nil {
		return false, errors.Wrapf(err, checkChatExistsErr, uid, conversationID)
	}
	return count > 0, nil
}

// CreatePrivateChat creates the one-to-one conversation between a and b.
// Creating a conversation that already exists is a no-op.
func (s *Store) CreatePrivateChat(ctx context.Context, conversationID string,
	a, b Participant) error {
	if a.UserId == "" || a.UserId == b.UserId {
		return errors.New(privateIsPairErr)
	}
	return s.createChat(ctx, conversationID, Private, "",
		[]Participant{a, b})
}

// CreateGroupChat creates a group conversation. names holds one display name
// per participant id, in the same order; the group title is given separately.
func (s *Store) CreateGroupChat(ctx context.Context, conversationID string,
	participantIDs []string, kind Kind, title string, names []string) error {
	if len(participantIDs) != len(names) {
		return errors.Errorf(namesMismatchErr, len(names), len(participantIDs))
	}
	if kind == Group && len(participantIDs) < minGroupMembers {
		return errors.Errorf(minGroupMembersErr, minGroupMembers,
			len(participantIDs))
	}

	participants := make([]Participant, len(participantIDs))
	for i := range participantIDs {
		participants[i] = Participant{
			UserId:      participantIDs[i],
			DisplayName: names[i],
		}
	}
	return s.createChat(ctx, conversationID, kind, title, participants)
}

func (s *Store) createChat(ctx context.Context, conversationID string,
	kind Kind, title string, participants []Participant) error {
	jww.DEBUG.Printf("[ARCHIVE] Creating %s conversation %s with %d "+
		"participants", kind, conversationID, len(participants))

	for i := range participants {
		participants[i].ConversationId = conversationID
	}
	convo := &Conversation{
		Id:    conversationID,
		Kind:  kind,
		Title: title,
	}

	ctx, cancel := newContext(ctx)
	defer cancel()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Omit(clause.Associations).Create(convo).Error
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&participants).Error
	})
	if err != nil {
		return errors.Wrapf(err, createChatErr, conversationID)
	}
	return nil
}

// UpdateGroup renames a group and replaces its membership. A nil
// participants slice leaves membership untouched.
func (s *Store) UpdateGroup(ctx context.Context, conversationID, title string,
	participants []Participant) error {
	convo, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if convo.Kind != Group {
		return errors.WithMessagef(ErrNotGroup, "%q", conversationID)
	}

	ctx, cancel := newContext(ctx)
	defer cancel()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Conversation{}).Where("id = ?", conversationID).
			Update("title", title).Error
		if err != nil || participants == nil {
			return err
		}
		err = tx.Where("conversation_id = ?", conversationID).
			Delete(&Participant{}).Error
		if err != nil {
			return err
		}
		for i := range participants {
			participants[i].ConversationId = conversationID
		}
		if len(participants) == 0 {
			return nil
		}
		return tx.Create(&participants).Error
	})
	if err != nil {
		return errors.Wrapf(err, updateGroupErr, conversationID)
	}
	return nil
}

// ListConversations returns the conversations uid participates in, most
// recently updated first.
func (s *Store) ListConversations(
	ctx context.Context, uid string) ([]Conversation, error) {
	var results []Conversation
	ctx, cancel := newContext(ctx)
	err := s.db.WithContext(ctx).Preload("Participants").
		Where("id IN (?)", s.db.Model(&Participant{}).
			Select("conversation_id").Where("user_id = ?", uid)).
		Order("updated_at desc").Find(&results).Error
	cancel()
	if err != nil {
		return nil, errors.Wrapf(err, listErr, uid)
	}
	return results, nil
}

// FetchRecentMessages returns up to limit messages of the conversation that
// sort before the cursor (before, beforeID), ordered oldest first. Messages
// sort by timestamp and then by MessageId. An empty beforeID selects every
// message with a timestamp strictly before the given one. It has no side
// effects, so repeating a call returns the same page.
func (s *Store) FetchRecentMessages(ctx context.Context, conversationID string,
	before int64, beforeID string, limit int) ([]Message, error) {
	jww.TRACE.Printf("[ARCHIVE] FetchRecentMessages(%s, %d, %q, %d)",
		conversationID, before, beforeID, limit)

	var results []Message
	ctx, cancel := newContext(ctx)
	query := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID)
	if beforeID == "" {
		query = query.Where("timestamp < ?", before)
	} else {
		query = query.Where(
			"(timestamp < ? OR (timestamp = ? AND message_id < ?))",
			before, before, beforeID)
	}
	err := query.Order("timestamp desc").Order("message_id desc").
		Limit(limit).Find(&results).Error
	cancel()
	if err != nil {
		return nil, errors.Wrapf(err, fetchMessagesErr, conversationID, before)
	}

	// Newest first from the query; pages are returned oldest first
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// UpsertMessages inserts the messages, or updates the existing row for any
// MessageId already archived, in a single transaction. Repeating the call
// with the same messages leaves exactly one row per MessageId.
func (s *Store) UpsertMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	jww.DEBUG.Printf("[ARCHIVE] Attempting to upsert %d messages", len(msgs))

	// Row ids are assigned by the database
	rows := make([]Message, len(msgs))
	for i := range msgs {
		rows[i] = msgs[i]
		rows[i].Id = 0
	}

	ctx, cancel := newContext(ctx)
	defer cancel()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns()),
		}).Create(&rows).Error
		if err != nil {
			return err
		}

		// Touch the conversations so they sort by latest activity
		touched := make(map[string]struct{})
		for _, m := range rows {
			touched[m.ConversationId] = struct{}{}
		}
		for id := range touched {
			err = tx.Model(&Conversation{}).Where("id = ?", id).
				Update("updated_at", time.Now()).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, upsertMessagesErr, len(msgs))
	}
	return nil
}

// GetMessages returns the archived messages of the conversation with the
// given ids, ordered oldest first. Unknown ids are skipped.
func (s *Store) GetMessages(ctx context.Context, conversationID string,
	messageIDs []string) ([]Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	var results []Message
	ctx, cancel := newContext(ctx)
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND message_id IN ?", conversationID,
			messageIDs).
		Order("timestamp asc").Order("message_id asc").Find(&results).Error
	cancel()
	if err != nil {
		return nil, errors.Wrapf(err, getMessagesErr, conversationID)
	}
	return results, nil
}

// DeleteMessage removes an archived message. Deleting a message that is not
// archived is not an error.
func (s *Store) DeleteMessage(
	ctx context.Context, conversationID, messageID string) error {
	jww.TRACE.Printf("[ARCHIVE] DeleteMessage(%s, %s)", conversationID,
		messageID)

	ctx, cancel := newContext(ctx)
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND message_id = ?", conversationID,
			messageID).Delete(&Message{}).Error
	cancel()
	if err != nil {
		return errors.Wrapf(err, deleteMessageErr, messageID, conversationID)
	}
	return nil
}

func upsertColumns() []string {
	return []string{"conversation_id", "timestamp", "sender_id",
		"sender_name", "text", "file_id", "file_url", "file_type"}
}
