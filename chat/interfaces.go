////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package chat implements the conversation controller: the per-conversation
// state machine that merges the archived history with the live tail, decrypts
// for display and routes send and delete intents to the right store.
package chat

import (
	"context"

	"github.com/pkg/errors"

	"gitlab.com/nesmo/connect/storage/archive"
	"gitlab.com/nesmo/connect/storage/files"
	"gitlab.com/nesmo/connect/transport"
)

// Error values.
var (
	// ErrNotFound is returned by Activate when the conversation does not
	// exist or the signed-in user is not one of its participants.
	ErrNotFound = errors.New("conversation not found")

	// ErrUnknownIdentity is returned when no user is signed in.
	ErrUnknownIdentity = errors.New("no signed-in user")

	// ErrAlreadyActive is returned by Activate on a controller that was
	// already activated.
	ErrAlreadyActive = errors.New("controller already activated")

	// ErrClosed is returned by Activate when the controller was closed
	// before activation completed.
	ErrClosed = errors.New("controller closed")

	// ErrTimeout is the kind of error returned when a store operation runs
	// past Params.OperationTimeout.
	ErrTimeout = context.DeadlineExceeded

	// ErrMissingDeps is returned by NewController when a required dependency
	// is nil.
	ErrMissingDeps = errors.New("missing controller dependency")

	// ErrInvalidParams is returned by GetParameters and NewController when a
	// Params field is out of range.
	ErrInvalidParams = errors.New("invalid chat parameters")
)

// Transport is the message transport used by a Controller. It is satisfied by
// [transport.Transport].
type Transport interface {
	SubscribeLive(conversationID string) (*transport.Subscription, error)
	PublishLive(ctx context.Context, env transport.Envelope) (
		transport.LiveMessage, error)
	DeleteLive(ctx context.Context, m transport.LiveMessage) error
	DeleteArchived(ctx context.Context, m transport.ArchivedMessage) error
	FetchArchivedPage(ctx context.Context, conversationID string,
		before transport.Watermark, pageSize int) (
		[]transport.ArchivedMessage, error)
	LookupArchived(ctx context.Context, conversationID string,
		ids []string) ([]transport.ArchivedMessage, error)
	SyncLiveToArchive(ctx context.Context, conversationID string) (
		[]transport.ArchivedMessage, error)
}

// Directory answers conversation metadata queries. It is satisfied by
// [archive.Store].
type Directory interface {
	GetConversation(ctx context.Context, conversationID string) (
		*archive.Conversation, error)
	CheckChatExists(ctx context.Context, conversationID, uid string) (
		bool, error)
}

// FileService stores message attachments. It is satisfied by [files.Store].
type FileService interface {
	UploadFile(name, mimeType string, data []byte) (files.File, error)
	GetFileView(id string) (string, error)
	DeleteFile(id string) error
}

// Codec encrypts message bodies. It is satisfied by [crypto.Codec].
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Presenter receives every new view of the conversation. Render is called
// with the full merged transcript each time it changes. Redirect is called
// once when the conversation cannot be shown, after which the controller is
// in StateFailed. Implementations must not call back into the Controller's
// mutating methods from inside Render.
type Presenter interface {
	Render(view []ViewMessage)
	Redirect(conversationID string, err error)
}

// Deps bundles the collaborators of a Controller. Presenter and Files are
// optional; without Files, attachments cannot be sent.
type Deps struct {
	Transport Transport
	Directory Directory
	Files     FileService
	Codec     Codec
	Presenter Presenter
}

func (d Deps) validate() error {
	switch {
	case d.Transport == nil:
		return errors.WithMessage(ErrMissingDeps, "transport")
	case d.Directory == nil:
		return errors.WithMessage(ErrMissingDeps, "directory")
	case d.Codec == nil:
		return errors.WithMessage(ErrMissingDeps, "codec")
	}
	return nil
}
