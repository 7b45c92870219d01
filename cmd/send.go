////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// The send subcommand sends a message to a user or a conversation

package cmd

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/xx_network/primitives/utils"

	"gitlab.com/nesmo/connect/chat"
	"gitlab.com/nesmo/connect/storage/archive"
	"gitlab.com/nesmo/connect/ui"
)

// sendCmd sends one message and prints the resulting transcript.
var sendCmd = &cobra.Command{
	Use:    "send",
	Short:  "Send a message to a user (--to) or a conversation (--conversation)",
	Args:   cobra.NoArgs,
	PreRun: bindLocalFlags,
	Run: func(cmd *cobra.Command, args []string) {
		c := initClient()
		defer c.close()

		conversationID := viper.GetString(conversationFlag)
		if to := viper.GetString(toFlag); to != "" {
			var err error
			conversationID, err = chat.OpenPrivate(context.Background(),
				c.archive, c.app.Identity(), archive.Participant{
					UserId:      to,
					DisplayName: viper.GetString(toNameFlag),
				})
			if err != nil {
				jww.FATAL.Panicf("%+v", err)
			}
		}
		if conversationID == "" {
			jww.FATAL.Panicf("Set --%s or --%s", toFlag, conversationFlag)
		}

		presenter := newSettled()
		ctrl, err := c.open(conversationID, presenter)
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		defer ctrl.Close()

		draft := chat.Draft{Text: viper.GetString(messageFlag)}
		if path := viper.GetString(fileFlag); path != "" {
			draft.Attachment = readUpload(path)
		}
		ctrl.SetDraft(draft)

		outcome, err := ctrl.Send(context.Background())
		if err != nil {
			jww.FATAL.Panicf("Failed to send: %+v", err)
		}
		jww.INFO.Printf("Send to %s: %s", conversationID, outcome)
		if outcome == chat.OutcomeSkipped {
			jww.WARN.Printf("Nothing sent to %s (state %s), draft kept: %q",
				ctrl.ConversationID(), ctrl.State(), ctrl.Draft().Text)
		}

		presenter.wait(viper.GetDuration(settleFlag))
		fmt.Println(ui.RenderTranscript(
			conversationID, ctrl.View(), viper.GetInt(widthFlag)))
	},
}

// readUpload loads an attachment from disk.
func readUpload(path string) *chat.Upload {
	data, err := utils.ReadFile(path)
	if err != nil {
		jww.FATAL.Panicf("Failed to read %s: %+v", path, err)
	}
	mimeType := viper.GetString(mimeTypeFlag)
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &chat.Upload{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
	}
}

func init() {
	sendCmd.Flags().String(toFlag, "", "User ID to message privately")
	sendCmd.Flags().String(toNameFlag, "",
		"Display name of --to, used when the conversation is created")
	sendCmd.Flags().String(conversationFlag, "", "Conversation ID")
	sendCmd.Flags().StringP(messageFlag, "m", "", "Message text")
	sendCmd.Flags().StringP(fileFlag, "f", "", "File to attach")
	sendCmd.Flags().String(mimeTypeFlag, "",
		"MIME type of --file (guessed from the extension by default)")
	sendCmd.Flags().Duration(settleFlag, defaultSettle,
		"How long to wait for the live tail before printing")
	sendCmd.Flags().Int(widthFlag, ui.DefaultWidth, "Transcript width")

	rootCmd.AddCommand(sendCmd)
}
