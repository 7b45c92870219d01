////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package archive

import (
	"time"
)

// Kind distinguishes one-to-one conversations from group conversations.
type Kind uint8

const (
	Private Kind = iota
	Group
)

// String returns the stored name of the Kind.
func (k Kind) String() string {
	switch k {
	case Private:
		return "private"
	case Group:
		return "group"
	default:
		return "unknown"
	}
}

// Conversation is the document describing a message thread.
//
// A Conversation has many Participant and Message objects.
type Conversation struct {
	Id        string    `gorm:"primaryKey;not null;autoIncrement:false"`
	Kind      Kind      `gorm:"not null"`
	Title     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Participants []Participant `gorm:"foreignKey:ConversationId;references:Id;constraint:OnDelete:CASCADE"`
	Messages     []Message     `gorm:"foreignKey:ConversationId;references:Id;constraint:OnDelete:CASCADE"`
}

// TableName overrides the table name used by Conversation.
func (Conversation) TableName() string {
	return "chat_conversations"
}

// Participant is one member of a Conversation. DisplayName is the name shown
// for the member in that conversation.
type Participant struct {
	ConversationId string `gorm:"primaryKey;not null"`
	UserId         string `gorm:"primaryKey;index;not null"`
	DisplayName    string `gorm:"not null"`
}

// TableName overrides the table name used by Participant.
func (Participant) TableName() string {
	return "chat_participants"
}

// Message is an archived chat message. Text holds the ciphertext only.
// Timestamp is milliseconds since the epoch as assigned by the sender.
//
// A Message belongs to one Conversation.
type Message struct {
	Id             int64  `gorm:"primaryKey;autoIncrement:true"`
	MessageId      string `gorm:"uniqueIndex;not null"`
	ConversationId string `gorm:"index:idx_conversation_time;not null"`
	Timestamp      int64  `gorm:"index:idx_conversation_time;not null"`
	SenderId       string `gorm:"index;not null"`
	SenderName     string `gorm:"not null"`
	Text           string `gorm:"not null"`
	FileId         string
	FileUrl        string
	FileType       string
}

// TableName overrides the table name used by Message.
func (Message) TableName() string {
	return "chat_messages"
}
