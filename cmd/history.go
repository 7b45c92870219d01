////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// The history subcommand prints a conversation, optionally following it

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/nesmo/connect/chat"
	"gitlab.com/nesmo/connect/ui"
)

const defaultSettle = 2 * time.Second

// historyCmd prints the transcript of a conversation.
var historyCmd = &cobra.Command{
	Use:    "history",
	Short:  "Print the messages of a conversation",
	Args:   cobra.NoArgs,
	PreRun: bindLocalFlags,
	Run: func(cmd *cobra.Command, args []string) {
		c := initClient()
		defer c.close()

		conversationID := viper.GetString(conversationFlag)
		width := viper.GetInt(widthFlag)

		var presenter chat.Presenter
		var ready *settled
		if viper.GetBool(followFlag) {
			presenter = ui.NewPrinter(os.Stdout, conversationID, width)
		} else {
			ready = newSettled()
			presenter = ready
		}

		ctrl, err := c.open(conversationID, presenter)
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		defer ctrl.Close()

		for i := 0; i < viper.GetInt(pagesFlag) && !ctrl.Exhausted(); i++ {
			outcome, err := ctrl.LoadOlder(context.Background())
			if err != nil {
				jww.FATAL.Panicf("%+v", err)
			}
			if outcome == chat.OutcomeSkipped {
				break
			}
		}

		if ready != nil {
			ready.wait(defaultSettle)
			title := chat.Title(*ctrl.Conversation(), c.app.Identity().UID)
			fmt.Println(ui.RenderTranscript(title, ctrl.View(), width))
			if ctrl.Exhausted() {
				fmt.Println("(start of conversation)")
			}
			return
		}

		jww.INFO.Printf("Following %s, interrupt to stop", conversationID)
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
	},
}

func init() {
	historyCmd.Flags().String(conversationFlag, "", "Conversation ID")
	historyCmd.Flags().Int(pagesFlag, 1, "Number of archived pages to load")
	historyCmd.Flags().Bool(followFlag, false,
		"Keep printing the conversation as it changes")
	historyCmd.Flags().Int(widthFlag, ui.DefaultWidth, "Transcript width")

	rootCmd.AddCommand(historyCmd)
}
