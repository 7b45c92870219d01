////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// The sync and delete subcommands act on the stores of one conversation

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/nesmo/connect/chat"
)

// syncCmd moves the live messages of a conversation into the archive.
var syncCmd = &cobra.Command{
	Use:    "sync",
	Short:  "Move the live messages of a conversation into the archive",
	Args:   cobra.NoArgs,
	PreRun: bindLocalFlags,
	Run: func(cmd *cobra.Command, args []string) {
		c := initClient()
		defer c.close()

		conversationID := viper.GetString(conversationFlag)
		archived, err := c.transport.SyncLiveToArchive(
			context.Background(), conversationID)
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		fmt.Printf("Archived %d messages of %s\n", len(archived), conversationID)
	},
}

// deleteCmd deletes one message, wherever it is currently stored.
var deleteCmd = &cobra.Command{
	Use:    "delete [message ID]",
	Short:  "Delete a message and its attachment",
	Args:   cobra.ExactArgs(1),
	PreRun: bindLocalFlags,
	Run: func(cmd *cobra.Command, args []string) {
		c := initClient()
		defer c.close()

		conversationID := viper.GetString(conversationFlag)
		ready := newSettled()
		ctrl, err := c.open(conversationID, ready)
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		defer ctrl.Close()
		ready.wait(defaultSettle)

		// Page back until the message is in view or the archive runs out
		for {
			for _, vm := range ctrl.View() {
				if vm.Message.Base().ID != args[0] {
					continue
				}
				outcome, err := ctrl.Delete(context.Background(), vm.Message)
				if err != nil {
					jww.FATAL.Panicf("%+v", err)
				}
				fmt.Printf("Delete %s: %s\n", args[0], outcome)
				return
			}
			outcome, err := ctrl.LoadOlder(context.Background())
			if err != nil {
				jww.FATAL.Panicf("%+v", err)
			}
			if outcome == chat.OutcomeSkipped {
				break
			}
		}
		jww.FATAL.Panicf("Message %s not found in %s", args[0], conversationID)
	},
}

func init() {
	syncCmd.Flags().String(conversationFlag, "", "Conversation ID")
	deleteCmd.Flags().String(conversationFlag, "", "Conversation ID")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(deleteCmd)
}
