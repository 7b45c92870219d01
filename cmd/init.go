////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/crypto/fastRNG"
	"gitlab.com/elixxir/ekv"
	"gitlab.com/xx_network/crypto/csprng"
	"gitlab.com/xx_network/primitives/utils"

	"gitlab.com/nesmo/connect/chat"
	"gitlab.com/nesmo/connect/crypto"
	"gitlab.com/nesmo/connect/session"
	"gitlab.com/nesmo/connect/storage/archive"
	"gitlab.com/nesmo/connect/storage/files"
	"gitlab.com/nesmo/connect/storage/live"
	"gitlab.com/nesmo/connect/storage/versioned"
	"gitlab.com/nesmo/connect/transport"
)

const (
	kvDir         = "kv"
	archiveFile   = "archive.db"
	rngStreams    = 4
	rngStreamSize = 64
)

// client bundles the local stores opened for one command.
type client struct {
	app       *session.Context
	archive   *archive.Store
	live      *live.Store
	files     *files.Store
	transport *transport.Transport
	codec     *crypto.Codec
	params    chat.Params
}

// initClient opens the stores under the data directory. Any failure is fatal.
func initClient() *client {
	dataDir, err := utils.ExpandPath(viper.GetString(dataDirFlag))
	if err != nil {
		jww.FATAL.Panicf("Invalid data directory: %+v", err)
	}
	if err = os.MkdirAll(dataDir, 0700); err != nil {
		jww.FATAL.Panicf("Failed to create %s: %+v", dataDir, err)
	}

	fs, err := ekv.NewFilestore(
		filepath.Join(dataDir, kvDir), viper.GetString(passwordFlag))
	if err != nil {
		jww.FATAL.Panicf("Failed to open key-value store: %+v", err)
	}
	kv := versioned.NewKV(fs)

	liveStore, err := live.NewStore(kv)
	if err != nil {
		jww.FATAL.Panicf("%+v", err)
	}

	filesParams, err := files.GetParameters(viper.GetString(filesParamsFlag))
	if err != nil {
		jww.FATAL.Panicf("Invalid %s: %+v", filesParamsFlag, err)
	}
	if baseURL := viper.GetString(baseURLFlag); baseURL != "" {
		filesParams.BaseURL = baseURL
	}
	fileStore, err := files.NewStore(kv, filesParams)
	if err != nil {
		jww.FATAL.Panicf("%+v", err)
	}

	archiveStore, err := archive.NewStore(filepath.Join(dataDir, archiveFile))
	if err != nil {
		jww.FATAL.Panicf("Failed to open archive: %+v", err)
	}

	rng := fastRNG.NewStreamGenerator(
		rngStreams, rngStreamSize, csprng.NewSystemRNG)
	codec, err := crypto.NewCodec(viper.GetString(secretFlag), rng)
	if err != nil {
		jww.FATAL.Panicf("Set --%s or NESMO_SECRET: %+v", secretFlag, err)
	}

	params, err := chat.GetParameters(viper.GetString(chatParamsFlag))
	if err != nil {
		jww.FATAL.Panicf("Invalid %s: %+v", chatParamsFlag, err)
	}

	identity := session.Identity{
		UID:  viper.GetString(userFlag),
		Name: viper.GetString(nameFlag),
	}
	if !identity.Known() {
		jww.FATAL.Panicf("Set --%s to the signed-in user", userFlag)
	}
	if identity.Name == "" {
		identity.Name = identity.UID
	}

	jww.INFO.Printf("Signed in as %s (%s), data in %s",
		identity.Name, identity.UID, dataDir)

	return &client{
		app:       session.New(identity),
		archive:   archiveStore,
		live:      liveStore,
		files:     fileStore,
		transport: transport.New(liveStore, archiveStore),
		codec:     codec,
		params:    params,
	}
}

// close releases the stores.
func (c *client) close() {
	if err := c.archive.Close(); err != nil {
		jww.ERROR.Printf("Failed to close archive: %+v", err)
	}
}

// open returns an activated controller for the conversation.
func (c *client) open(conversationID string, presenter chat.Presenter) (
	*chat.Controller, error) {
	c.app.SetActiveConversation(conversationID)
	ctrl, err := chat.NewController(c.app, chat.Deps{
		Transport: c.transport,
		Directory: c.archive,
		Files:     c.files,
		Codec:     c.codec,
		Presenter: presenter,
	}, conversationID, c.params)
	if err != nil {
		return nil, err
	}
	if err = ctrl.Activate(context.Background()); err != nil {
		return nil, errors.WithMessagef(err, "cannot open %s", conversationID)
	}
	return ctrl, nil
}

// settled is a Presenter that signals each render so a command can wait for
// the first view before reading the controller.
type settled struct {
	rendered chan struct{}
}

func newSettled() *settled {
	return &settled{rendered: make(chan struct{}, 1)}
}

func (s *settled) Render([]chat.ViewMessage) {
	select {
	case s.rendered <- struct{}{}:
	default:
	}
}

func (s *settled) Redirect(conversationID string, err error) {
	jww.ERROR.Printf("Conversation %s is unavailable: %+v", conversationID, err)
}

// wait returns after the first render or the timeout.
func (s *settled) wait(timeout time.Duration) {
	select {
	case <-s.rendered:
	case <-time.After(timeout):
		jww.WARN.Printf("No transcript rendered within %s", timeout)
	}
}
