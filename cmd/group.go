////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// The group subcommand creates, edits and lists conversations

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/nesmo/connect/chat"
	"gitlab.com/nesmo/connect/storage/archive"
)

// groupCmd creates a group with --title and --members, edits the group named
// by --conversation, or lists the conversations of the signed-in user with
// --list.
var groupCmd = &cobra.Command{
	Use:    "group",
	Short:  "Create or edit a group conversation, or list conversations",
	Args:   cobra.NoArgs,
	PreRun: bindLocalFlags,
	Run: func(cmd *cobra.Command, args []string) {
		c := initClient()
		defer c.close()

		if viper.GetBool(groupListFlag) {
			listConversations(c, viper.GetString(groupSearchFlag))
			return
		}

		conversationID := viper.GetString(conversationFlag)
		if conversationID != "" {
			updateGroup(cmd, c, conversationID)
			return
		}

		members := parseMembers(viper.GetStringSlice(groupMembersFlag))
		if len(members) == 0 {
			jww.FATAL.Panicf("Set --%s to at least one other user",
				groupMembersFlag)
		}

		conversationID, err := chat.CreateGroup(context.Background(),
			c.archive, c.app.Identity(), viper.GetString(groupTitleFlag),
			members)
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		fmt.Printf("Created group %s\n", conversationID)
	},
}

// parseMembers reads "uid" or "uid:Display Name" entries.
func parseMembers(raw []string) []archive.Participant {
	members := make([]archive.Participant, 0, len(raw))
	for _, m := range raw {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		uid, name, found := strings.Cut(m, ":")
		if !found {
			name = uid
		}
		members = append(members,
			archive.Participant{UserId: uid, DisplayName: name})
	}
	return members
}

// updateGroup renames the group and, when --members was given, replaces its
// membership.
func updateGroup(cmd *cobra.Command, c *client, conversationID string) {
	var members []archive.Participant
	if cmd.Flags().Changed(groupMembersFlag) {
		members = parseMembers(viper.GetStringSlice(groupMembersFlag))
	}
	title := viper.GetString(groupTitleFlag)
	if title == "" && members == nil {
		jww.FATAL.Panicf("Set --%s or --%s to edit %s", groupTitleFlag,
			groupMembersFlag, conversationID)
	}

	err := chat.UpdateGroup(context.Background(), c.archive, c.app.Identity(),
		conversationID, title, members)
	if err != nil {
		jww.FATAL.Panicf("%+v", err)
	}
	fmt.Printf("Updated group %s\n", conversationID)
}

func listConversations(c *client, query string) {
	uid := c.app.Identity().UID
	conversations, err := c.archive.ListConversations(context.Background(), uid)
	if err != nil {
		jww.FATAL.Panicf("%+v", err)
	}
	c.app.SetSearchQuery(query)
	for _, conv := range chat.Search(c.app, conversations) {
		fmt.Printf("%s\t%s\t%s\n", conv.Id, conv.Kind, chat.Title(conv, uid))
	}
}

func init() {
	groupCmd.Flags().String(groupTitleFlag, "", "Title of the group")
	groupCmd.Flags().StringSlice(groupMembersFlag, nil,
		"Members of the group as uid or uid:name")
	groupCmd.Flags().String(conversationFlag, "",
		"Group to edit instead of creating a new one")
	groupCmd.Flags().Bool(groupListFlag, false,
		"List the conversations of the signed-in user")
	groupCmd.Flags().String(groupSearchFlag, "",
		"With --list, only show conversations matching the text")

	rootCmd.AddCommand(groupCmd)
}
