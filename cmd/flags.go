////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

// This is a comprehensive list of CLI flag name constants. Organized by
// subcommand, with root level CLI flags at the top of the list. Pulling flags
// using Viper should use the constants defined here.
const (
	//////////////// Root flags ///////////////////////////////////////////////

	// Identity flags
	userFlag   = "user"
	nameFlag   = "name"
	secretFlag = "secret"

	// Storage flags
	dataDirFlag     = "dataDir"
	passwordFlag    = "password"
	baseURLFlag     = "baseURL"
	chatParamsFlag  = "chatParams"
	filesParamsFlag = "filesParams"

	// Log flags
	logLevelFlag = "logLevel"
	logFlag      = "log"

	// Misc
	configFlag     = "config"
	profileCpuFlag = "profile-cpu"

	///////////////// Send subcommand flags ///////////////////////////////////
	toFlag       = "to"
	toNameFlag   = "toName"
	messageFlag  = "message"
	fileFlag     = "file"
	mimeTypeFlag = "mimeType"
	settleFlag   = "settle"

	///////////////// Conversation flags (history, sync, delete, group) ///////
	conversationFlag = "conversation"
	pagesFlag        = "pages"
	followFlag       = "follow"
	widthFlag        = "width"

	///////////////// Group subcommand flags //////////////////////////////////
	groupTitleFlag   = "title"
	groupMembersFlag = "members"
	groupListFlag    = "list"
	groupSearchFlag  = "search"

	///////////////// Download subcommand flags ///////////////////////////////
	previewFlag     = "preview"
	previewSizeFlag = "previewWidth"
	outFlag         = "out"
)
