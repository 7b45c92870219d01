////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/golang-collections/collections/set"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/nesmo/connect/crypto"
	"gitlab.com/nesmo/connect/session"
	"gitlab.com/nesmo/connect/stoppable"
	"gitlab.com/nesmo/connect/storage/archive"
	"gitlab.com/nesmo/connect/storage/files"
	"gitlab.com/nesmo/connect/transport"
)

// Error messages.
const (
	activateErr   = "failed to activate conversation %s"
	loadOlderErr  = "failed to load messages of %s before %+v"
	encryptErr    = "failed to encrypt message to %s"
	publishErr    = "failed to publish message to %s"
	uploadErr     = "failed to upload attachment %q"
	deleteFileErr = "failed to delete attachment %s of message %s"
	deleteErr     = "failed to delete message %s"
)

// entry is a message together with its decrypted body.
type entry struct {
	msg         transport.Message
	text        string
	unavailable bool
}

func (e entry) id() string { return e.msg.Base().ID }

// Controller drives one conversation view. It owns the live subscription of
// the conversation, the pages of archived messages loaded so far and the
// composer. All methods are safe for concurrent use.
type Controller struct {
	app            *session.Context
	deps           Deps
	conversationID string
	params         Params

	// Orders calls to the presenter
	renderMux sync.Mutex

	mux          sync.Mutex
	state        State
	conversation *archive.Conversation
	sub          *transport.Subscription
	tail         *stoppable.Single

	// older holds archived pages, oldest first, and recent holds the last
	// live snapshot
	older   []entry
	recent  []entry
	deleted *set.Set

	// Cursor of the oldest message in older
	watermark    transport.Watermark
	hasWatermark bool
	exhausted    bool

	loadingOlder bool
	sending      bool
	syncing      bool

	draft    Draft
	draftSeq uint64
}

// NewController returns an idle Controller for the conversation. Call
// Activate to start following it.
func NewController(app *session.Context, deps Deps, conversationID string,
	p Params) (*Controller, error) {
	if app == nil {
		return nil, errors.WithMessage(ErrMissingDeps, "application context")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, errors.WithMessage(ErrNotFound, "empty conversation id")
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	return &Controller{
		app:            app,
		deps:           deps,
		conversationID: conversationID,
		params:         p,
		state:          StateIdle,
		deleted:        set.New(),
	}, nil
}

// ConversationID returns the id of the conversation the Controller shows.
func (c *Controller) ConversationID() string {
	return c.conversationID
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.state
}

// Conversation returns the metadata resolved on activation, or nil before
// the controller is live.
func (c *Controller) Conversation() *archive.Conversation {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.conversation
}

// LoadingOlder returns true while a LoadOlder call is in flight.
func (c *Controller) LoadingOlder() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.loadingOlder
}

// Sending returns true while a Send call is in flight.
func (c *Controller) Sending() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.sending
}

// Exhausted returns true once every archived message has been loaded.
func (c *Controller) Exhausted() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.exhausted
}

////////////////////////////////////////////////////////////////////////////////
// Lifecycle                                                                  //
////////////////////////////////////////////////////////////////////////////////

// Activate resolves the conversation and starts following its live tail. If
// the conversation does not exist or the signed-in user is not one of its
// participants, the controller moves to StateFailed, the presenter is asked
// to redirect and ErrNotFound is returned. A failed controller is never
// retried; build a new one.
func (c *Controller) Activate(ctx context.Context) error {
	c.mux.Lock()
	switch c.state {
	case StateIdle:
	case StateUnmounted:
		c.mux.Unlock()
		return ErrClosed
	default:
		c.mux.Unlock()
		return ErrAlreadyActive
	}
	c.state = StateInitializing
	c.mux.Unlock()

	jww.INFO.Printf("[CHAT] Activating conversation %s", c.conversationID)

	conversation, err := c.resolve(ctx)
	if err != nil {
		return c.fail(err)
	}

	sub, err := c.deps.Transport.SubscribeLive(c.conversationID)
	if err != nil {
		return c.fail(errors.WithMessagef(err, activateErr, c.conversationID))
	}

	c.mux.Lock()
	if c.state != StateInitializing {
		c.mux.Unlock()
		sub.Close()
		return ErrClosed
	}
	c.state = StateLive
	c.conversation = conversation
	c.sub = sub
	c.tail = stoppable.NewSingle("chat/" + c.conversationID)
	tail := c.tail
	c.mux.Unlock()

	go c.followLive(sub, tail)

	jww.INFO.Printf("[CHAT] Conversation %s is live", c.conversationID)
	return nil
}

// resolve looks up the conversation and checks that the signed-in user
// belongs to it.
func (c *Controller) resolve(ctx context.Context) (*archive.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.params.OperationTimeout)
	defer cancel()

	identity := c.app.Identity()
	if !identity.Known() {
		return nil, ErrUnknownIdentity
	}

	conversation, err := c.deps.Directory.GetConversation(ctx, c.conversationID)
	if errors.Is(err, archive.ErrNotFound) {
		return nil, errors.WithMessagef(ErrNotFound, "%q", c.conversationID)
	} else if err != nil {
		return nil, errors.WithMessagef(err, activateErr, c.conversationID)
	}

	member, err := c.deps.Directory.CheckChatExists(
		ctx, c.conversationID, identity.UID)
	if err != nil {
		return nil, errors.WithMessagef(err, activateErr, c.conversationID)
	} else if !member {
		return nil, errors.WithMessagef(ErrNotFound,
			"%s is not a participant of %q", identity.UID, c.conversationID)
	}

	return conversation, nil
}

// fail moves an initializing controller to StateFailed and redirects the
// presenter away from the conversation.
func (c *Controller) fail(err error) error {
	c.mux.Lock()
	redirect := c.state == StateInitializing
	if redirect {
		c.state = StateFailed
	}
	c.mux.Unlock()

	jww.ERROR.Printf("[CHAT] Failed to activate %s: %+v", c.conversationID, err)
	if redirect && c.deps.Presenter != nil {
		c.deps.Presenter.Redirect(c.conversationID, err)
	}
	return err
}

// Close unsubscribes from the live tail and moves the controller to
// StateUnmounted. Results of operations still in flight are discarded. It may
// be called more than once.
func (c *Controller) Close() error {
	c.mux.Lock()
	if c.state == StateUnmounted {
		c.mux.Unlock()
		return nil
	}
	c.state = StateUnmounted
	sub, tail := c.sub, c.tail
	c.sub, c.tail = nil, nil
	c.mux.Unlock()

	if sub != nil {
		sub.Close()
	}
	if tail != nil {
		_ = tail.Close()
		err := stoppable.WaitForStopped(tail, c.params.OperationTimeout)
		if err != nil {
			jww.WARN.Printf("[CHAT] Live tail of %s did not stop: %+v",
				c.conversationID, err)
			return err
		}
	}

	jww.INFO.Printf("[CHAT] Closed conversation %s", c.conversationID)
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Live Tail                                                                  //
////////////////////////////////////////////////////////////////////////////////

// followLive applies each live snapshot until the subscription ends or the
// controller is closed.
func (c *Controller) followLive(
	sub *transport.Subscription, tail *stoppable.Single) {
	defer tail.ToStopped()
	for {
		select {
		case <-tail.Quit():
			return
		case snapshot, ok := <-sub.Updates():
			if !ok {
				return
			}
			c.applySnapshot(snapshot)
		}
	}
}

// applySnapshot replaces the recent messages with the snapshot. Messages that
// left the live store without being deleted here were archived by another
// client and are looked up in the archive. Crossing the retention threshold
// starts a sync.
func (c *Controller) applySnapshot(snapshot []transport.LiveMessage) {
	decoded := make([]entry, len(snapshot))
	for i, m := range snapshot {
		decoded[i] = c.decrypt(m)
	}

	c.mux.Lock()
	if c.state != StateLive {
		c.mux.Unlock()
		return
	}

	current := set.New()
	for _, e := range decoded {
		current.Insert(e.id())
	}
	archived := idSet(c.older)
	var vanished []string
	for _, e := range c.recent {
		id := e.id()
		if !current.Has(id) && !c.deleted.Has(id) && !archived.Has(id) {
			vanished = append(vanished, id)
		}
	}

	c.recent = decoded
	startSync := !c.syncing &&
		len(c.recent) >= c.params.RetentionThreshold
	if startSync {
		c.syncing = true
	}
	c.mux.Unlock()

	jww.TRACE.Printf("[CHAT] Live snapshot of %s: %d messages",
		c.conversationID, len(decoded))
	c.render()

	if len(vanished) > 0 {
		c.adoptArchived(vanished)
	}
	if startSync {
		c.sync()
	}
}

// adoptArchived moves messages archived by another client into the older
// pages.
func (c *Controller) adoptArchived(ids []string) {
	ctx, cancel := context.WithTimeout(
		context.Background(), c.params.OperationTimeout)
	defer cancel()

	found, err := c.deps.Transport.LookupArchived(ctx, c.conversationID, ids)
	if err != nil {
		jww.WARN.Printf("[CHAT] Failed to look up %d messages that left the "+
			"live tail of %s: %+v", len(ids), c.conversationID, err)
		return
	}
	jww.DEBUG.Printf("[CHAT] %d of %d messages that left the live tail of %s "+
		"are archived", len(found), len(ids), c.conversationID)
	if len(found) == 0 {
		return
	}

	entries := make([]entry, len(found))
	for i, m := range found {
		entries[i] = c.decrypt(m)
	}

	c.mux.Lock()
	if c.state != StateLive {
		c.mux.Unlock()
		return
	}
	// Other messages of the peer's sync may never have reached this client,
	// so the watermark is left for LoadOlder to set
	c.appendOlder(entries, false)
	c.mux.Unlock()
	c.render()
}

// sync moves the live store into the archive. On success the synced messages
// move from recent to older; on failure nothing is cleared and the next
// snapshot past the threshold tries again.
func (c *Controller) sync() {
	ctx, cancel := context.WithTimeout(
		context.Background(), c.params.OperationTimeout)
	defer cancel()

	archived, err := c.deps.Transport.SyncLiveToArchive(ctx, c.conversationID)

	c.mux.Lock()
	c.syncing = false
	if err != nil {
		c.mux.Unlock()
		jww.WARN.Printf("[CHAT] Failed to sync %s to archive, keeping live "+
			"messages: %+v", c.conversationID, err)
		return
	}
	if c.state != StateLive {
		c.mux.Unlock()
		return
	}

	// Bodies are already decrypted in recent
	text := make(map[string]entry, len(c.recent))
	for _, e := range c.recent {
		text[e.id()] = e
	}
	synced := set.New()
	entries := make([]entry, 0, len(archived))
	for _, m := range archived {
		synced.Insert(m.ID)
		e, ok := text[m.ID]
		if !ok {
			e = c.decrypt(m)
		}
		e.msg = m
		entries = append(entries, e)
	}
	c.appendOlder(entries, true)

	remaining := c.recent[:0:0]
	for _, e := range c.recent {
		if !synced.Has(e.id()) {
			remaining = append(remaining, e)
		}
	}
	c.recent = remaining
	c.mux.Unlock()

	jww.INFO.Printf("[CHAT] Moved %d messages of %s to archive",
		len(entries), c.conversationID)
	c.render()
}

// appendOlder adds archived messages newer than every loaded page. If mark is
// set and no page was loaded yet, the watermark moves to the oldest of them.
// Must be called with mux held.
func (c *Controller) appendOlder(entries []entry, mark bool) {
	present := idSet(c.older)
	for _, e := range entries {
		if present.Has(e.id()) {
			continue
		}
		present.Insert(e.id())
		c.older = append(c.older, e)
	}
	if mark && !c.hasWatermark && len(c.older) > 0 {
		c.watermark = c.older[0].msg.Base().Cursor()
		for _, e := range c.older[1:] {
			if cur := e.msg.Base().Cursor(); cur.Before(c.watermark) {
				c.watermark = cur
			}
		}
		c.hasWatermark = true
	}
}

////////////////////////////////////////////////////////////////////////////////
// Intents                                                                    //
////////////////////////////////////////////////////////////////////////////////

// LoadOlder prepends the next page of archived messages. It is skipped while
// another LoadOlder is in flight, once the archive is exhausted, and when the
// controller is not live.
func (c *Controller) LoadOlder(ctx context.Context) (Outcome, error) {
	c.mux.Lock()
	if c.state != StateLive || c.loadingOlder || c.exhausted {
		c.mux.Unlock()
		return OutcomeSkipped, nil
	}
	c.loadingOlder = true
	before := transport.Watermark{Timestamp: maxTimestamp}
	if c.hasWatermark {
		before = c.watermark
	}
	c.mux.Unlock()

	defer func() {
		c.mux.Lock()
		c.loadingOlder = false
		c.mux.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.params.OperationTimeout)
	defer cancel()

	// One extra message tells a full last page from a page with more behind it
	page, err := c.deps.Transport.FetchArchivedPage(
		ctx, c.conversationID, before, c.params.PageSize+1)
	if err != nil {
		err = errors.WithMessagef(err, loadOlderErr, c.conversationID, before)
		jww.ERROR.Printf("[CHAT] %+v", err)
		return OutcomeFailed, err
	}

	more := len(page) > c.params.PageSize
	if more {
		page = page[len(page)-c.params.PageSize:]
	}

	entries := make([]entry, len(page))
	for i, m := range page {
		entries[i] = c.decrypt(m)
	}

	c.mux.Lock()
	if c.state != StateLive {
		c.mux.Unlock()
		return OutcomeSkipped, nil
	}

	advanced := false
	if len(entries) > 0 {
		oldest := entries[0].msg.Base().Cursor()
		advanced = !c.hasWatermark || oldest.Before(c.watermark)
		if advanced {
			c.watermark = oldest
			c.hasWatermark = true
		}
	}
	if !more || !advanced {
		c.exhausted = true
	}

	present := idSet(c.older)
	fresh := make([]entry, 0, len(entries)+len(c.older))
	for _, e := range entries {
		if !present.Has(e.id()) {
			fresh = append(fresh, e)
		}
	}
	added := len(fresh)
	c.older = append(fresh, c.older...)
	exhausted := c.exhausted
	c.mux.Unlock()

	jww.DEBUG.Printf("[CHAT] Loaded %d older messages of %s (exhausted: %t)",
		added, c.conversationID, exhausted)
	c.render()
	return OutcomeApplied, nil
}

// SetDraft replaces the composer content.
func (c *Controller) SetDraft(d Draft) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.draft = d
	c.draftSeq++
}

// Draft returns the composer content.
func (c *Controller) Draft() Draft {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.draft
}

// Send publishes the composer content. It is skipped when the draft is blank
// with no attachment, when no user is signed in, while another send is in
// flight and when the controller is not live. On success the draft is cleared
// unless it was changed while sending; on failure it is kept.
func (c *Controller) Send(ctx context.Context) (Outcome, error) {
	identity := c.app.Identity()

	c.mux.Lock()
	if c.state != StateLive || c.sending || c.draft.empty() ||
		!identity.Known() {
		c.mux.Unlock()
		return OutcomeSkipped, nil
	}
	c.sending = true
	draft, seq := c.draft, c.draftSeq
	c.mux.Unlock()

	defer func() {
		c.mux.Lock()
		c.sending = false
		c.mux.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.params.OperationTimeout)
	defer cancel()

	var attachment *transport.Attachment
	if draft.Attachment != nil {
		var err error
		attachment, err = c.upload(draft.Attachment)
		if err != nil {
			jww.ERROR.Printf("[CHAT] %+v", err)
			return OutcomeFailed, err
		}
	}

	ciphertext, err := c.deps.Codec.Encrypt(draft.Text)
	if err != nil {
		err = errors.WithMessagef(err, encryptErr, c.conversationID)
		c.discardUpload(attachment)
		jww.ERROR.Printf("[CHAT] %+v", err)
		return OutcomeFailed, err
	}

	msg, err := c.deps.Transport.PublishLive(ctx, transport.Envelope{
		ConversationID: c.conversationID,
		SenderID:       identity.UID,
		SenderName:     identity.Name,
		Ciphertext:     ciphertext,
		Attachment:     attachment,
		Timestamp:      netTime.Now().UnixMilli(),
	})
	if err != nil {
		err = errors.WithMessagef(err, publishErr, c.conversationID)
		c.discardUpload(attachment)
		jww.ERROR.Printf("[CHAT] %+v", err)
		return OutcomeFailed, err
	}

	c.mux.Lock()
	if c.draftSeq == seq {
		c.draft = Draft{}
	}
	c.mux.Unlock()

	jww.DEBUG.Printf("[CHAT] Sent %s to %s", msg.ID, c.conversationID)
	return OutcomeApplied, nil
}

// upload stores the staged file and returns the descriptor to attach.
func (c *Controller) upload(u *Upload) (*transport.Attachment, error) {
	if c.deps.Files == nil {
		return nil, errors.Errorf(uploadErr+": no file service", u.Name)
	}
	f, err := c.deps.Files.UploadFile(u.Name, u.MimeType, u.Data)
	if err != nil {
		return nil, errors.WithMessagef(err, uploadErr, u.Name)
	}
	url, err := c.deps.Files.GetFileView(f.ID)
	if err != nil {
		c.discardUpload(&transport.Attachment{FileID: f.ID})
		return nil, errors.WithMessagef(err, uploadErr, u.Name)
	}
	return &transport.Attachment{
		FileID:   f.ID,
		URL:      url,
		MimeType: f.MimeType,
	}, nil
}

// discardUpload removes a file whose message was never published.
func (c *Controller) discardUpload(a *transport.Attachment) {
	if a == nil || c.deps.Files == nil {
		return
	}
	if err := c.deps.Files.DeleteFile(a.FileID); err != nil {
		jww.WARN.Printf("[CHAT] Failed to remove orphaned file %s: %+v",
			a.FileID, err)
	}
}

// Delete removes a message from the store currently holding it, deleting its
// attachment first. The message is marked deleted only if the store deletion
// succeeds. It is skipped for messages that are not in the view or already
// deleted.
func (c *Controller) Delete(ctx context.Context, m transport.Message) (
	Outcome, error) {
	if m == nil {
		return OutcomeSkipped, nil
	}
	id := m.Base().ID

	c.mux.Lock()
	if c.state != StateLive || c.deleted.Has(id) {
		c.mux.Unlock()
		return OutcomeSkipped, nil
	}
	// The message may have been archived since it was rendered
	current, ok := c.find(id)
	c.mux.Unlock()
	if !ok {
		return OutcomeSkipped, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.params.OperationTimeout)
	defer cancel()

	if a := current.Base().Attachment; a != nil && c.deps.Files != nil {
		err := c.deps.Files.DeleteFile(a.FileID)
		if err != nil && !errors.Is(err, files.ErrFileNotFound) {
			err = errors.WithMessagef(err, deleteFileErr, a.FileID, id)
			jww.ERROR.Printf("[CHAT] %+v", err)
			return OutcomeFailed, err
		}
	}

	var err error
	switch msg := current.(type) {
	case transport.LiveMessage:
		err = c.deps.Transport.DeleteLive(ctx, msg)
		if errors.Is(err, transport.ErrMessageNotFound) {
			err = c.deleteMoved(ctx, msg)
		}
	case transport.ArchivedMessage:
		err = c.deps.Transport.DeleteArchived(ctx, msg)
	default:
		err = errors.Errorf("unknown message type %T", current)
	}
	if err != nil {
		err = errors.WithMessagef(err, deleteErr, id)
		jww.ERROR.Printf("[CHAT] %+v", err)
		return OutcomeFailed, err
	}

	c.mux.Lock()
	if c.state == StateLive {
		c.deleted.Insert(id)
	}
	c.mux.Unlock()

	jww.DEBUG.Printf("[CHAT] Deleted %s from %s", id, c.conversationID)
	c.render()
	return OutcomeApplied, nil
}

// deleteMoved deletes a live message that left the live store before the
// delete reached it. A peer's sync moves it to the archive; if it is not
// there either it is already gone.
func (c *Controller) deleteMoved(
	ctx context.Context, m transport.LiveMessage) error {
	found, err := c.deps.Transport.LookupArchived(
		ctx, m.ConversationID, []string{m.ID})
	if err != nil {
		return err
	}
	if len(found) == 0 {
		jww.DEBUG.Printf("[CHAT] Message %s of %s was already removed",
			m.ID, m.ConversationID)
		return nil
	}
	jww.DEBUG.Printf("[CHAT] Message %s of %s moved to archive, deleting "+
		"it there", m.ID, m.ConversationID)
	return c.deps.Transport.DeleteArchived(ctx, found[0])
}

// find returns the message with the id as currently held. Must be called
// with mux held.
func (c *Controller) find(id string) (transport.Message, bool) {
	for _, e := range c.older {
		if e.id() == id {
			return e.msg, true
		}
	}
	for _, e := range c.recent {
		if e.id() == id {
			return e.msg, true
		}
	}
	return nil, false
}

////////////////////////////////////////////////////////////////////////////////
// View                                                                       //
////////////////////////////////////////////////////////////////////////////////

// View returns the transcript: the loaded archived pages followed by the
// recent live messages, each in the order its store returned them. Messages
// are not re-sorted across the two, so clock skew between senders stays
// visible.
func (c *Controller) View() []ViewMessage {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.view()
}

// view must be called with mux held.
func (c *Controller) view() []ViewMessage {
	me := c.app.Identity().UID
	seen := set.New()
	out := make([]ViewMessage, 0, len(c.older)+len(c.recent))
	for _, list := range [][]entry{c.older, c.recent} {
		for _, e := range list {
			id := e.id()
			if seen.Has(id) {
				continue
			}
			seen.Insert(id)
			out = append(out, ViewMessage{
				Message:     e.msg,
				Text:        e.text,
				Unavailable: e.unavailable,
				IsMine:      me != "" && e.msg.Base().SenderID == me,
				IsDeleted:   c.deleted.Has(id),
			})
		}
	}
	return out
}

// render hands the current view to the presenter.
func (c *Controller) render() {
	if c.deps.Presenter == nil {
		return
	}
	c.renderMux.Lock()
	defer c.renderMux.Unlock()

	c.mux.Lock()
	if c.state != StateLive {
		c.mux.Unlock()
		return
	}
	v := c.view()
	c.mux.Unlock()

	c.deps.Presenter.Render(v)
}

// decrypt returns the message with its body decrypted. Bodies that cannot be
// decrypted are replaced by a placeholder.
func (c *Controller) decrypt(m transport.Message) entry {
	env := m.Base()
	text, err := c.deps.Codec.Decrypt(env.Ciphertext)
	if err == nil {
		return entry{msg: m, text: text}
	}

	placeholder := UnavailableText
	if errors.Is(err, crypto.ErrMissingSecret) {
		placeholder = UnprocessedText
	}
	jww.WARN.Printf("[CHAT] Cannot decrypt message %s from %s in %s: %+v",
		env.ID, env.SenderID, env.ConversationID, err)
	return entry{msg: m, text: placeholder, unavailable: true}
}

// maxTimestamp is the fetch boundary before any page is loaded.
const maxTimestamp = int64(^uint64(0) >> 1)

func idSet(entries []entry) *set.Set {
	s := set.New()
	for _, e := range entries {
		s.Insert(e.id())
	}
	return s
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
