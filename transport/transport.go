////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package transport gives uniform send, receive and delete operations over the
// live store, which holds new messages for low-latency delivery, and the
// archive store, which holds message history durably.
package transport

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/nesmo/connect/storage/archive"
	"gitlab.com/nesmo/connect/storage/live"
)

// LiveStore contains the methods of [live.Store] used by the Transport.
type LiveStore interface {
	ListenForChanges(path string, cb live.Listener) (func(), error)
	AddWithAutoID(path string, data []byte) (string, error)
	DeleteData(path string) error
	Snapshot(path string) ([]live.Entry, error)
}

// ArchiveStore contains the methods of [archive.Store] used by the
// Transport.
type ArchiveStore interface {
	GetConversation(ctx context.Context, conversationID string) (
		*archive.Conversation, error)
	FetchRecentMessages(ctx context.Context, conversationID string,
		before int64, beforeID string, limit int) ([]archive.Message, error)
	UpsertMessages(ctx context.Context, msgs []archive.Message) error
	GetMessages(ctx context.Context, conversationID string,
		messageIDs []string) ([]archive.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
}

// Transport moves messages between the live and the archive store.
type Transport struct {
	live    LiveStore
	archive ArchiveStore
}

// New builds a Transport over the two stores.
func New(liveStore LiveStore, archiveStore ArchiveStore) *Transport {
	return &Transport{
		live:    liveStore,
		archive: archiveStore,
	}
}

// SubscribeLive starts a stream of live snapshots of the conversation. The
// current snapshot is available on the stream immediately.
func (t *Transport) SubscribeLive(conversationID string) (*Subscription, error) {
	sub := newSubscription(conversationID)
	unsubscribe, err := t.live.ListenForChanges(conversationID,
		func(entries []live.Entry) {
			sub.deliver(decodeEntries(conversationID, entries))
		})
	if err != nil {
		return nil, wrapErr("subscribe", err)
	}
	sub.unsubscribe = unsubscribe
	jww.DEBUG.Printf("[TRANSPORT] Subscribed to %s", conversationID)
	return sub, nil
}

// PublishLive appends the message to the live store of its conversation and
// returns it with the id the store assigned. The write is rejected if the
// conversation does not exist.
func (t *Transport) PublishLive(
	ctx context.Context, env Envelope) (LiveMessage, error) {
	if err := ctx.Err(); err != nil {
		return LiveMessage{}, wrapErr("publish", err)
	}
	if _, err := t.archive.GetConversation(ctx, env.ConversationID); err != nil {
		return LiveMessage{}, wrapErr("publish", err)
	}

	data, err := json.Marshal(liveRecord{
		SenderID:   env.SenderID,
		SenderName: env.SenderName,
		Text:       env.Ciphertext,
		Attachment: env.Attachment,
		Timestamp:  env.Timestamp,
	})
	if err != nil {
		return LiveMessage{}, wrapErr("publish", err)
	}

	id, err := t.live.AddWithAutoID(env.ConversationID, data)
	if err != nil {
		return LiveMessage{}, wrapErr("publish", err)
	}
	env.ID = id
	jww.TRACE.Printf("[TRANSPORT] Published %s to %s", id, env.ConversationID)
	return LiveMessage{Envelope: env}, nil
}

// DeleteLive removes a message from the live store. If the message is no
// longer live the error wraps ErrMessageNotFound.
func (t *Transport) DeleteLive(ctx context.Context, m LiveMessage) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("delete live", err)
	}
	err := t.live.DeleteData(m.ConversationID + "/" + m.ID)
	if errors.Is(err, live.ErrEntryNotFound) {
		err = errors.WithMessage(ErrMessageNotFound, err.Error())
	}
	return wrapErr("delete live", err)
}

// DeleteArchived removes a message from the archive store.
func (t *Transport) DeleteArchived(ctx context.Context, m ArchivedMessage) error {
	return wrapErr("delete archived",
		t.archive.DeleteMessage(ctx, m.ConversationID, m.ID))
}

// FetchArchivedPage returns up to pageSize archived messages that sort before
// the cursor, oldest first. A cursor with an empty ID selects by timestamp
// alone. A short page means the archive is exhausted at that boundary.
// Repeating a call returns the same page.
func (t *Transport) FetchArchivedPage(ctx context.Context,
	conversationID string, before Watermark, pageSize int) (
	[]ArchivedMessage, error) {
	msgs, err := t.archive.FetchRecentMessages(
		ctx, conversationID, before.Timestamp, before.ID, pageSize)
	if err != nil {
		return nil, wrapErr("fetch page", err)
	}
	return fromArchive(msgs), nil
}

// LookupArchived returns the archived messages with the given ids. Ids that
// are not archived are skipped.
func (t *Transport) LookupArchived(ctx context.Context, conversationID string,
	ids []string) ([]ArchivedMessage, error) {
	msgs, err := t.archive.GetMessages(ctx, conversationID, ids)
	if err != nil {
		return nil, wrapErr("lookup archived", err)
	}
	return fromArchive(msgs), nil
}

// SyncLiveToArchive moves every message currently in the live store of the
// conversation into the archive and returns them as archived. Messages are
// removed from the live store only after the archive write succeeds, and the
// archive write is an upsert by id, so a failed or repeated sync never loses
// or duplicates a message. Messages published after the snapshot stay live.
func (t *Transport) SyncLiveToArchive(
	ctx context.Context, conversationID string) ([]ArchivedMessage, error) {
	entries, err := t.live.Snapshot(conversationID)
	if err != nil {
		return nil, wrapErr("sync", err)
	}
	liveMsgs := decodeEntries(conversationID, entries)
	if len(liveMsgs) == 0 {
		return nil, nil
	}

	rows := make([]archive.Message, len(liveMsgs))
	archived := make([]ArchivedMessage, len(liveMsgs))
	for i, m := range liveMsgs {
		rows[i] = toArchive(m.Envelope)
		archived[i] = ArchivedMessage{Envelope: m.Envelope}
	}

	if err = t.archive.UpsertMessages(ctx, rows); err != nil {
		jww.WARN.Printf("[TRANSPORT] Sync of %s failed before clearing "+
			"live store: %+v", conversationID, err)
		return nil, wrapErr("sync", err)
	}

	var clearErr error
	for _, m := range liveMsgs {
		err = t.live.DeleteData(conversationID + "/" + m.ID)
		if err != nil && !errors.Is(err, live.ErrEntryNotFound) {
			clearErr = errors.Wrapf(err, "failed to clear %s", m.ID)
		}
	}
	if clearErr != nil {
		return nil, wrapErr("sync", clearErr)
	}

	jww.INFO.Printf("[TRANSPORT] Synced %d live messages of %s to archive",
		len(archived), conversationID)
	return archived, nil
}

// decodeEntries converts live entries to messages. Entries that cannot be
// decoded are skipped.
func decodeEntries(conversationID string, entries []live.Entry) []LiveMessage {
	msgs := make([]LiveMessage, 0, len(entries))
	for _, e := range entries {
		var rec liveRecord
		if err := json.Unmarshal(e.Data, &rec); err != nil {
			jww.WARN.Printf("[TRANSPORT] Skipping undecodable live entry "+
				"%s in %s: %+v", e.ID, conversationID, err)
			continue
		}
		msgs = append(msgs, LiveMessage{Envelope: Envelope{
			ID:             e.ID,
			ConversationID: conversationID,
			SenderID:       rec.SenderID,
			SenderName:     rec.SenderName,
			Ciphertext:     rec.Text,
			Attachment:     rec.Attachment,
			Timestamp:      rec.Timestamp,
		}})
	}
	return msgs
}

func toArchive(env Envelope) archive.Message {
	m := archive.Message{
		MessageId:      env.ID,
		ConversationId: env.ConversationID,
		Timestamp:      env.Timestamp,
		SenderId:       env.SenderID,
		SenderName:     env.SenderName,
		Text:           env.Ciphertext,
	}
	if env.Attachment != nil {
		m.FileId = env.Attachment.FileID
		m.FileUrl = env.Attachment.URL
		m.FileType = env.Attachment.MimeType
	}
	return m
}

func fromArchive(msgs []archive.Message) []ArchivedMessage {
	out := make([]ArchivedMessage, len(msgs))
	for i, m := range msgs {
		env := Envelope{
			ID:             m.MessageId,
			ConversationID: m.ConversationId,
			SenderID:       m.SenderId,
			SenderName:     m.SenderName,
			Ciphertext:     m.Text,
			Timestamp:      m.Timestamp,
		}
		if m.FileId != "" {
			env.Attachment = &Attachment{
				FileID:   m.FileId,
				URL:      m.FileUrl,
				MimeType: m.FileType,
			}
		}
		out[i] = ArchivedMessage{Envelope: env}
	}
	return out
}
