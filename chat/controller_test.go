////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/crypto/fastRNG"
	"gitlab.com/elixxir/ekv"
	"gitlab.com/xx_network/crypto/csprng"

	"gitlab.com/nesmo/connect/crypto"
	"gitlab.com/nesmo/connect/session"
	"gitlab.com/nesmo/connect/storage/archive"
	"gitlab.com/nesmo/connect/storage/files"
	"gitlab.com/nesmo/connect/storage/live"
	"gitlab.com/nesmo/connect/storage/versioned"
	"gitlab.com/nesmo/connect/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelDebug)
	os.Exit(m.Run())
}

// spyTransport counts calls and injects failures into a real Transport.
type spyTransport struct {
	*transport.Transport

	mux         sync.Mutex
	fetches     int
	publishes   int
	syncs       int
	failPublish bool
	failSync    bool
	failDelete  bool
	blockFetch  bool

	// publishGate, when set, holds PublishLive until it is closed
	publishGate chan struct{}

	// archiveFirst runs a sync ahead of DeleteLive, as a peer would
	archiveFirst bool
}

func (s *spyTransport) PublishLive(ctx context.Context,
	env transport.Envelope) (transport.LiveMessage, error) {
	s.mux.Lock()
	s.publishes++
	fail := s.failPublish
	gate := s.publishGate
	s.mux.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return transport.LiveMessage{}, ctx.Err()
		}
	}
	if fail {
		return transport.LiveMessage{}, errors.New("store rejected write")
	}
	return s.Transport.PublishLive(ctx, env)
}

func (s *spyTransport) DeleteLive(
	ctx context.Context, m transport.LiveMessage) error {
	s.mux.Lock()
	fail, archiveFirst := s.failDelete, s.archiveFirst
	s.mux.Unlock()
	if fail {
		return &transport.Error{Op: "delete live",
			Err: errors.New("store rejected delete")}
	}
	if archiveFirst {
		if _, err := s.Transport.SyncLiveToArchive(
			ctx, m.ConversationID); err != nil {
			return err
		}
	}
	return s.Transport.DeleteLive(ctx, m)
}

func (s *spyTransport) DeleteArchived(
	ctx context.Context, m transport.ArchivedMessage) error {
	s.mux.Lock()
	fail := s.failDelete
	s.mux.Unlock()
	if fail {
		return &transport.Error{Op: "delete archived",
			Err: errors.New("store rejected delete")}
	}
	return s.Transport.DeleteArchived(ctx, m)
}

func (s *spyTransport) FetchArchivedPage(ctx context.Context,
	conversationID string, before transport.Watermark, pageSize int) (
	[]transport.ArchivedMessage, error) {
	s.mux.Lock()
	s.fetches++
	block := s.blockFetch
	s.mux.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.Transport.FetchArchivedPage(ctx, conversationID, before, pageSize)
}

func (s *spyTransport) SyncLiveToArchive(ctx context.Context,
	conversationID string) ([]transport.ArchivedMessage, error) {
	s.mux.Lock()
	s.syncs++
	fail := s.failSync
	s.mux.Unlock()
	if fail {
		return nil, errors.New("archive unavailable")
	}
	return s.Transport.SyncLiveToArchive(ctx, conversationID)
}

func (s *spyTransport) counts() (fetches, publishes, syncs int) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.fetches, s.publishes, s.syncs
}

// recorder is a Presenter that keeps the last view and any redirect.
type recorder struct {
	mux         sync.Mutex
	renders     int
	last        []ViewMessage
	redirected  string
	redirectErr error
}

func (r *recorder) Render(view []ViewMessage) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.renders++
	r.last = view
}

func (r *recorder) Redirect(conversationID string, err error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.redirected = conversationID
	r.redirectErr = err
}

type testEnv struct {
	conversationID string
	archive        *archive.Store
	live           *live.Store
	files          *files.Store
	codec          *crypto.Codec
	spy            *spyTransport
}

func newTestEnv(t *testing.T) *testEnv {
	kv := versioned.NewKV(ekv.MakeMemstore())
	liveStore, err := live.NewStore(kv)
	require.NoError(t, err)
	fileStore, err := files.NewStore(kv, files.GetDefaultParams())
	require.NoError(t, err)
	archiveStore, err := archive.NewTemporaryStore(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = archiveStore.Close() })

	rng := fastRNG.NewStreamGenerator(10, 2, csprng.NewSystemRNG)
	codec, err := crypto.NewCodec("shared secret", rng)
	require.NoError(t, err)

	conversationID, err := OpenPrivate(context.Background(), archiveStore,
		session.Identity{UID: "a", Name: "Alice"},
		archive.Participant{UserId: "b", DisplayName: "Bob"})
	require.NoError(t, err)

	return &testEnv{
		conversationID: conversationID,
		archive:        archiveStore,
		live:           liveStore,
		files:          fileStore,
		codec:          codec,
		spy:            &spyTransport{Transport: transport.New(liveStore, archiveStore)},
	}
}

func testParams() Params {
	p := GetDefaultParams()
	p.OperationTimeout = time.Second
	return p
}

// newController returns an activated controller for uid.
func (e *testEnv) newController(t *testing.T, uid, name string,
	p Params) (*Controller, *recorder) {
	rec := &recorder{}
	c, err := NewController(session.New(session.Identity{UID: uid, Name: name}),
		Deps{
			Transport: e.spy,
			Directory: e.archive,
			Files:     e.files,
			Codec:     e.codec,
			Presenter: rec,
		}, e.conversationID, p)
	require.NoError(t, err)
	require.NoError(t, c.Activate(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c, rec
}

// archiveMessages stores n encrypted messages directly in the archive with
// timestamps base, base+1, ...
func (e *testEnv) archiveMessages(t *testing.T, n int, base int64) {
	msgs := make([]archive.Message, n)
	for i := range msgs {
		ct, err := e.codec.Encrypt(fmt.Sprintf("archived %d", i))
		require.NoError(t, err)
		msgs[i] = archive.Message{
			MessageId:      fmt.Sprintf("arch-%03d", i),
			ConversationId: e.conversationID,
			Timestamp:      base + int64(i),
			SenderId:       "b",
			SenderName:     "Bob",
			Text:           ct,
		}
	}
	require.NoError(t, e.archive.UpsertMessages(context.Background(), msgs))
}

// publish writes an encrypted message straight to the live store.
func (e *testEnv) publish(t *testing.T, text string, ts int64) transport.LiveMessage {
	ct, err := e.codec.Encrypt(text)
	require.NoError(t, err)
	m, err := e.spy.Transport.PublishLive(context.Background(), transport.Envelope{
		ConversationID: e.conversationID,
		SenderID:       "b",
		SenderName:     "Bob",
		Ciphertext:     ct,
		Timestamp:      ts,
	})
	require.NoError(t, err)
	return m
}

func (e *testEnv) archivedCount(t *testing.T) int {
	msgs, err := e.archive.FetchRecentMessages(
		context.Background(), e.conversationID, maxTimestamp, "", 1000)
	require.NoError(t, err)
	return len(msgs)
}

func (e *testEnv) liveCount(t *testing.T) int {
	entries, err := e.live.Snapshot(e.conversationID)
	require.NoError(t, err)
	return len(entries)
}

func visible(view []ViewMessage) []ViewMessage {
	out := make([]ViewMessage, 0, len(view))
	for _, vm := range view {
		if !vm.IsDeleted {
			out = append(out, vm)
		}
	}
	return out
}

// Tests the one-to-one happy path: A sends, B receives the decrypted message,
// A deletes it and it leaves B's view.
func TestController_OneToOne(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, PrivateConversationID("b", "a"), e.conversationID)

	a, _ := e.newController(t, "a", "Alice", testParams())
	b, bRec := e.newController(t, "b", "Bob", testParams())

	a.SetDraft(Draft{Text: "hello"})
	outcome, err := a.Send(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.Equal(t, Draft{}, a.Draft())

	require.Eventually(t, func() bool { return len(b.View()) == 1 }, waitFor, tick)
	got := b.View()[0]
	require.Equal(t, "hello", got.Text)
	require.Equal(t, "a", got.Message.Base().SenderID)
	require.False(t, got.IsMine)
	require.False(t, got.Unavailable)
	require.IsType(t, transport.LiveMessage{}, got.Message)

	require.Eventually(t, func() bool { return len(a.View()) == 1 }, waitFor, tick)
	mine := a.View()[0]
	require.True(t, mine.IsMine)

	outcome, err = a.Delete(context.Background(), mine.Message)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	require.Eventually(t, func() bool { return len(b.View()) == 0 }, waitFor, tick)
	require.Empty(t, visible(a.View()))
	require.Zero(t, e.liveCount(t))

	bRec.mux.Lock()
	require.NotZero(t, bRec.renders)
	require.Empty(t, bRec.redirected)
	bRec.mux.Unlock()
}

// Tests that a missing conversation fails activation, redirects and is
// terminal.
func TestController_Activate_NotFound(t *testing.T) {
	e := newTestEnv(t)
	rec := &recorder{}
	c, err := NewController(session.New(session.Identity{UID: "a"}), Deps{
		Transport: e.spy,
		Directory: e.archive,
		Codec:     e.codec,
		Presenter: rec,
	}, "missing", testParams())
	require.NoError(t, err)

	err = c.Activate(context.Background())
	require.True(t, errors.Is(err, ErrNotFound), "%+v", err)
	require.Equal(t, StateFailed, c.State())
	require.Equal(t, "missing", rec.redirected)
	require.True(t, errors.Is(rec.redirectErr, ErrNotFound))

	require.Equal(t, ErrAlreadyActive, c.Activate(context.Background()))
	outcome, err := c.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, outcome)
}

// Tests that a user outside the conversation cannot activate it.
func TestController_Activate_NotParticipant(t *testing.T) {
	e := newTestEnv(t)
	c, err := NewController(session.New(session.Identity{UID: "mallory"}),
		Deps{Transport: e.spy, Directory: e.archive, Codec: e.codec},
		e.conversationID, testParams())
	require.NoError(t, err)

	err = c.Activate(context.Background())
	require.True(t, errors.Is(err, ErrNotFound), "%+v", err)
	require.Equal(t, StateFailed, c.State())
}

// Tests that NewController rejects missing dependencies.
func TestNewController_MissingDeps(t *testing.T) {
	e := newTestEnv(t)
	app := session.New(session.Identity{UID: "a"})

	_, err := NewController(nil, Deps{}, e.conversationID, testParams())
	require.True(t, errors.Is(err, ErrMissingDeps))
	_, err = NewController(app, Deps{Directory: e.archive, Codec: e.codec},
		e.conversationID, testParams())
	require.True(t, errors.Is(err, ErrMissingDeps))
	_, err = NewController(app, Deps{Transport: e.spy, Directory: e.archive},
		e.conversationID, testParams())
	require.True(t, errors.Is(err, ErrMissingDeps))
}

// Tests that out of range Params are rejected before they can reach paging
// or timeouts.
func TestNewController_InvalidParams(t *testing.T) {
	e := newTestEnv(t)
	app := session.New(session.Identity{UID: "a"})
	deps := Deps{Transport: e.spy, Directory: e.archive, Codec: e.codec}

	for _, mutate := range []func(p *Params){
		func(p *Params) { p.PageSize = 0 },
		func(p *Params) { p.PageSize = -2 },
		func(p *Params) { p.OperationTimeout = 0 },
		func(p *Params) { p.OperationTimeout = -time.Second },
		func(p *Params) { p.RetentionThreshold = 0 },
	} {
		p := testParams()
		mutate(&p)
		_, err := NewController(app, deps, e.conversationID, p)
		require.ErrorIs(t, err, ErrInvalidParams)
	}

	_, err := NewController(app, deps, e.conversationID, testParams())
	require.NoError(t, err)
}

// Tests that an archive of exactly one page is exhausted by the first
// LoadOlder and the second one makes no store call.
func TestController_LoadOlder_ExactPage(t *testing.T) {
	e := newTestEnv(t)
	e.archiveMessages(t, 10, 100)

	p := testParams()
	p.PageSize = 10
	c, _ := e.newController(t, "a", "Alice", p)

	outcome, err := c.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.Len(t, c.View(), 10)
	require.True(t, c.Exhausted())
	require.False(t, c.LoadingOlder())

	fetches, _, _ := e.spy.counts()
	outcome, err = c.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, outcome)
	after, _, _ := e.spy.counts()
	require.Equal(t, fetches, after)
}

// Tests that paging through k archived messages terminates within ceil(k/p)
// calls, yields every message once and keeps the view in order.
func TestController_LoadOlder_Termination(t *testing.T) {
	e := newTestEnv(t)
	const k, pageSize = 25, 10
	e.archiveMessages(t, k, 100)

	p := testParams()
	p.PageSize = pageSize
	c, _ := e.newController(t, "a", "Alice", p)

	calls := 0
	for !c.Exhausted() {
		outcome, err := c.LoadOlder(context.Background())
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, outcome)
		calls++
		require.LessOrEqual(t, calls, (k+pageSize-1)/pageSize)
	}

	view := c.View()
	require.Len(t, view, k)
	seen := make(map[string]bool, k)
	for i, vm := range view {
		id := vm.Message.Base().ID
		require.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
		require.Equal(t, int64(100+i), vm.Message.Base().Timestamp)
		require.Equal(t, fmt.Sprintf("archived %d", i), vm.Text)
	}
}

// Tests that archived messages sharing one timestamp across a page boundary
// are all loaded before the archive counts as exhausted.
func TestController_LoadOlder_TiedTimestamps(t *testing.T) {
	e := newTestEnv(t)
	msgs := make([]archive.Message, 3)
	for i := range msgs {
		ct, err := e.codec.Encrypt(fmt.Sprintf("tied %d", i))
		require.NoError(t, err)
		msgs[i] = archive.Message{
			MessageId:      fmt.Sprintf("tie-%d", i),
			ConversationId: e.conversationID,
			Timestamp:      1000,
			SenderId:       "b",
			SenderName:     "Bob",
			Text:           ct,
		}
	}
	require.NoError(t, e.archive.UpsertMessages(context.Background(), msgs))

	p := testParams()
	p.PageSize = 2
	c, _ := e.newController(t, "a", "Alice", p)

	outcome, err := c.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.Len(t, c.View(), 2)
	require.False(t, c.Exhausted())

	outcome, err = c.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.True(t, c.Exhausted())

	view := c.View()
	require.Len(t, view, 3)
	for i, vm := range view {
		require.Equal(t, fmt.Sprintf("tie-%d", i), vm.Message.Base().ID)
	}
}

// Tests that the view is the archived pages followed by the live tail with no
// re-sorting, so a skewed sender clock shows up as out of order.
func TestController_View_NoResort(t *testing.T) {
	e := newTestEnv(t)
	e.archiveMessages(t, 2, 2000)
	e.publish(t, "late clock", 1000)

	c, _ := e.newController(t, "a", "Alice", testParams())
	_, err := c.LoadOlder(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(c.View()) == 3 }, waitFor, tick)
	view := c.View()
	require.IsType(t, transport.ArchivedMessage{}, view[0].Message)
	require.IsType(t, transport.ArchivedMessage{}, view[1].Message)
	require.IsType(t, transport.LiveMessage{}, view[2].Message)
	require.Equal(t, "late clock", view[2].Text)
	require.Greater(t, view[1].Message.Base().Timestamp,
		view[2].Message.Base().Timestamp)

	// With consistent clocks the same concatenation is ordered
	e.publish(t, "on time", 3000)
	require.Eventually(t, func() bool { return len(c.View()) == 4 }, waitFor, tick)
	view = c.View()
	require.LessOrEqual(t, view[1].Message.Base().Timestamp,
		view[3].Message.Base().Timestamp)
}

// Tests that blank drafts are never sent and are left as they were.
func TestController_Send_Blank(t *testing.T) {
	e := newTestEnv(t)
	c, _ := e.newController(t, "a", "Alice", testParams())

	for _, text := range []string{"", "   ", "\n\t"} {
		c.SetDraft(Draft{Text: text})
		outcome, err := c.Send(context.Background())
		require.NoError(t, err)
		require.Equal(t, OutcomeSkipped, outcome)
		require.Equal(t, text, c.Draft().Text)
	}
	_, publishes, _ := e.spy.counts()
	require.Zero(t, publishes)
	require.Zero(t, e.liveCount(t))
}

// Tests that nothing is sent once the identity is cleared.
func TestController_Send_UnknownIdentity(t *testing.T) {
	e := newTestEnv(t)
	app := session.New(session.Identity{UID: "a", Name: "Alice"})
	c, err := NewController(app, Deps{
		Transport: e.spy, Directory: e.archive, Codec: e.codec,
	}, e.conversationID, testParams())
	require.NoError(t, err)
	require.NoError(t, c.Activate(context.Background()))
	defer c.Close()

	app.SetIdentity(session.Identity{})
	c.SetDraft(Draft{Text: "hello"})
	outcome, err := c.Send(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, outcome)
	_, publishes, _ := e.spy.counts()
	require.Zero(t, publishes)
}

// Tests that a failed publish keeps the draft and reports the failure.
func TestController_Send_Failure(t *testing.T) {
	e := newTestEnv(t)
	c, _ := e.newController(t, "a", "Alice", testParams())

	e.spy.mux.Lock()
	e.spy.failPublish = true
	e.spy.mux.Unlock()
	c.SetDraft(Draft{Text: "keep me"})
	outcome, err := c.Send(context.Background())
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, outcome)
	require.Equal(t, "keep me", c.Draft().Text)
	require.False(t, c.Sending())

	e.spy.mux.Lock()
	e.spy.failPublish = false
	e.spy.mux.Unlock()
	outcome, err = c.Send(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.Empty(t, c.Draft().Text)
}

// Tests that an attachment is uploaded with the message and removed with it.
func TestController_Attachment(t *testing.T) {
	e := newTestEnv(t)
	c, _ := e.newController(t, "a", "Alice", testParams())

	c.SetDraft(Draft{Attachment: &Upload{
		Name: "notes.txt", MimeType: "text/plain", Data: []byte("notes"),
	}})
	outcome, err := c.Send(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	require.Eventually(t, func() bool { return len(c.View()) == 1 }, waitFor, tick)
	vm := c.View()[0]
	a := vm.Message.Base().Attachment
	require.NotNil(t, a)
	require.Equal(t, "text/plain", a.MimeType)
	url, err := e.files.GetFileView(a.FileID)
	require.NoError(t, err)
	require.Equal(t, url, a.URL)

	outcome, err = c.Delete(context.Background(), vm.Message)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	_, err = e.files.GetFile(a.FileID)
	require.True(t, errors.Is(err, files.ErrFileNotFound))
}

// Tests that a tampered body renders as a placeholder instead of failing.
func TestController_TamperedMessage(t *testing.T) {
	e := newTestEnv(t)
	ct, err := e.codec.Encrypt("secret plans")
	require.NoError(t, err)
	_, err = e.spy.Transport.PublishLive(context.Background(), transport.Envelope{
		ConversationID: e.conversationID,
		SenderID:       "b",
		Ciphertext:     ct[:len(ct)-1],
		Timestamp:      1,
	})
	require.NoError(t, err)
	e.publish(t, "fine", 2)

	c, _ := e.newController(t, "a", "Alice", testParams())
	require.Eventually(t, func() bool { return len(c.View()) == 2 }, waitFor, tick)
	view := c.View()
	require.True(t, view[0].Unavailable)
	require.Equal(t, UnavailableText, view[0].Text)
	require.False(t, view[1].Unavailable)
	require.Equal(t, "fine", view[1].Text)
}

// Tests that crossing the retention threshold moves the live tail into the
// archive exactly once and into the older pages of the view.
func TestController_RetentionSync(t *testing.T) {
	e := newTestEnv(t)
	p := testParams()
	p.RetentionThreshold = 5
	c, _ := e.newController(t, "a", "Alice", p)

	for i := 0; i < 5; i++ {
		e.publish(t, fmt.Sprintf("live %d", i), int64(100+i))
	}

	require.Eventually(t, func() bool {
		return e.liveCount(t) == 0 && e.archivedCount(t) == 5
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		view := c.View()
		if len(view) != 5 {
			return false
		}
		for _, vm := range view {
			if _, ok := vm.Message.(transport.ArchivedMessage); !ok {
				return false
			}
		}
		return true
	}, waitFor, tick)

	// A second sync finds nothing and duplicates nothing
	_, err := e.spy.Transport.SyncLiveToArchive(
		context.Background(), e.conversationID)
	require.NoError(t, err)
	require.Equal(t, 5, e.archivedCount(t))

	// Everything older than the synced messages is already loaded
	outcome, err := c.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.True(t, c.Exhausted())
	require.Len(t, c.View(), 5)
}

// Tests that a failed sync clears nothing.
func TestController_RetentionSync_Failure(t *testing.T) {
	e := newTestEnv(t)
	e.spy.failSync = true
	p := testParams()
	p.RetentionThreshold = 3
	c, _ := e.newController(t, "a", "Alice", p)

	for i := 0; i < 3; i++ {
		e.publish(t, fmt.Sprintf("live %d", i), int64(100+i))
	}

	require.Eventually(t, func() bool {
		_, _, syncs := e.spy.counts()
		return syncs > 0 && len(c.View()) == 3
	}, waitFor, tick)
	require.Equal(t, 3, e.liveCount(t))
	require.Zero(t, e.archivedCount(t))
	for _, vm := range c.View() {
		require.IsType(t, transport.LiveMessage{}, vm.Message)
	}
}

// Tests that messages archived by another client move into the older pages.
func TestController_PeerSync(t *testing.T) {
	e := newTestEnv(t)
	b, _ := e.newController(t, "b", "Bob", testParams())

	for i := 0; i < 3; i++ {
		e.publish(t, fmt.Sprintf("live %d", i), int64(100+i))
	}
	require.Eventually(t, func() bool { return len(b.View()) == 3 }, waitFor, tick)

	p := testParams()
	p.RetentionThreshold = 3
	e.newController(t, "a", "Alice", p)

	require.Eventually(t, func() bool {
		view := b.View()
		if len(view) != 3 {
			return false
		}
		for _, vm := range view {
			if _, ok := vm.Message.(transport.ArchivedMessage); !ok {
				return false
			}
		}
		return true
	}, waitFor, tick)
	require.Equal(t, "live 0", b.View()[0].Text)
}

// Tests that deleting an archived message removes it from the archive.
func TestController_Delete_Archived(t *testing.T) {
	e := newTestEnv(t)
	e.archiveMessages(t, 3, 100)
	c, _ := e.newController(t, "a", "Alice", testParams())
	_, err := c.LoadOlder(context.Background())
	require.NoError(t, err)

	target := c.View()[1].Message
	outcome, err := c.Delete(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.Equal(t, 2, e.archivedCount(t))
	require.True(t, c.View()[1].IsDeleted)
	require.Len(t, visible(c.View()), 2)

	outcome, err = c.Delete(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, outcome)
}

// Tests that a failed store delete reports a transport error and leaves the
// message visible, and that a retry succeeds.
func TestController_Delete_Failure(t *testing.T) {
	e := newTestEnv(t)
	e.archiveMessages(t, 3, 100)
	c, _ := e.newController(t, "a", "Alice", testParams())
	_, err := c.LoadOlder(context.Background())
	require.NoError(t, err)

	e.spy.mux.Lock()
	e.spy.failDelete = true
	e.spy.mux.Unlock()

	target := c.View()[0].Message
	outcome, err := c.Delete(context.Background(), target)
	require.Equal(t, OutcomeFailed, outcome)
	require.ErrorIs(t, err, transport.ErrTransport)
	require.False(t, c.View()[0].IsDeleted)
	require.Len(t, visible(c.View()), 3)
	require.Equal(t, 3, e.archivedCount(t))

	lm := e.publish(t, "still here", 200)
	require.Eventually(t, func() bool { return len(c.View()) == 4 }, waitFor, tick)
	outcome, err = c.Delete(context.Background(), lm)
	require.Equal(t, OutcomeFailed, outcome)
	require.ErrorIs(t, err, transport.ErrTransport)
	require.False(t, c.View()[3].IsDeleted)
	require.Equal(t, 1, e.liveCount(t))

	e.spy.mux.Lock()
	e.spy.failDelete = false
	e.spy.mux.Unlock()
	outcome, err = c.Delete(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.True(t, c.View()[0].IsDeleted)
	require.Equal(t, 2, e.archivedCount(t))
}

// Tests that deleting a live message a peer has just archived removes it from
// the archive.
func TestController_Delete_MovedToArchive(t *testing.T) {
	e := newTestEnv(t)
	c, _ := e.newController(t, "a", "Alice", testParams())
	m := e.publish(t, "moving", 100)
	require.Eventually(t, func() bool { return len(c.View()) == 1 }, waitFor, tick)

	e.spy.mux.Lock()
	e.spy.archiveFirst = true
	e.spy.mux.Unlock()

	outcome, err := c.Delete(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.Zero(t, e.liveCount(t))
	require.Zero(t, e.archivedCount(t))
	require.Eventually(t, func() bool {
		return len(visible(c.View())) == 0
	}, waitFor, tick)
}

// Tests that a Send issued while another is publishing is skipped and does
// not publish twice.
func TestController_Send_InFlight(t *testing.T) {
	e := newTestEnv(t)
	c, _ := e.newController(t, "a", "Alice", testParams())

	gate := make(chan struct{})
	e.spy.mux.Lock()
	e.spy.publishGate = gate
	e.spy.mux.Unlock()

	c.SetDraft(Draft{Text: "first"})
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := c.Send(context.Background())
		done <- outcome
	}()
	require.Eventually(t, func() bool {
		_, publishes, _ := e.spy.counts()
		return publishes == 1
	}, waitFor, tick)
	require.True(t, c.Sending())

	outcome, err := c.Send(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, outcome)

	close(gate)
	require.Equal(t, OutcomeApplied, <-done)
	require.False(t, c.Sending())
	_, publishes, _ := e.spy.counts()
	require.Equal(t, 1, publishes)
	require.Eventually(t, func() bool { return e.liveCount(t) == 1 }, waitFor, tick)
}

// Tests that a hung fetch times out and releases the LoadingOlder guard.
func TestController_LoadOlder_Timeout(t *testing.T) {
	e := newTestEnv(t)
	e.archiveMessages(t, 3, 100)
	p := testParams()
	p.OperationTimeout = 50 * time.Millisecond
	c, _ := e.newController(t, "a", "Alice", p)

	e.spy.mux.Lock()
	e.spy.blockFetch = true
	e.spy.mux.Unlock()

	outcome, err := c.LoadOlder(context.Background())
	require.True(t, errors.Is(err, ErrTimeout), "%+v", err)
	require.Equal(t, OutcomeFailed, outcome)
	require.False(t, c.LoadingOlder())
	require.False(t, c.Exhausted())

	e.spy.mux.Lock()
	e.spy.blockFetch = false
	e.spy.mux.Unlock()

	outcome, err = c.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.Len(t, c.View(), 3)
}

// Tests that a closed controller ignores snapshots and intents.
func TestController_Close(t *testing.T) {
	e := newTestEnv(t)
	c, _ := e.newController(t, "a", "Alice", testParams())
	e.publish(t, "before", 1)
	require.Eventually(t, func() bool { return len(c.View()) == 1 }, waitFor, tick)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, StateUnmounted, c.State())

	e.publish(t, "after", 2)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, c.View(), 1)

	c.SetDraft(Draft{Text: "hello"})
	outcome, err := c.Send(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, outcome)
	outcome, err = c.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, outcome)
	require.Equal(t, ErrClosed, c.Activate(context.Background()))
}

// Tests that a controller without a secret shows every message as
// unprocessable.
func TestController_MissingSecret(t *testing.T) {
	e := newTestEnv(t)
	e.publish(t, "hello", 1)

	var codec *crypto.Codec
	c, err := NewController(session.New(session.Identity{UID: "a"}), Deps{
		Transport: e.spy, Directory: e.archive, Codec: codec,
	}, e.conversationID, testParams())
	require.NoError(t, err)
	require.NoError(t, c.Activate(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool { return len(c.View()) == 1 }, waitFor, tick)
	require.Equal(t, UnprocessedText, c.View()[0].Text)

	c.SetDraft(Draft{Text: "hello"})
	outcome, err := c.Send(context.Background())
	require.True(t, errors.Is(err, crypto.ErrMissingSecret), "%+v", err)
	require.Equal(t, OutcomeFailed, outcome)
	require.Equal(t, "hello", c.Draft().Text)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "Live", StateLive.String())
	require.Equal(t, "Unmounted", StateUnmounted.String())
	require.Equal(t, "INVALID STATE: 99", State(99).String())
	require.Equal(t, "Skipped", OutcomeSkipped.String())
}
