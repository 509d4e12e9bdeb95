package types

import (
	"time"
)

// Credentials is the opaque capability required to establish the stream
// connection and authenticate REST calls. It is owned by the auth layer;
// the sync core only reacts to it changing.
type Credentials struct {
	Username string `json:"username"`
	UserId   string `json:"userId"`
	Token    string `json:"token"`
}

// Like is one like record on a message.
type Like struct {
	Id       int64  `json:"id"`
	Username string `json:"username"`
}

// ReactionRow is the flat per-user reaction record delivered by history
// pages. The sync layer groups rows into ReactionEntry aggregates.
type ReactionRow struct {
	Emoji    string `json:"emoji"`
	Username string `json:"username"`
}

// ReactionEntry is the per (message, emoji) aggregate. Count always equals
// len(Users); an entry with zero count is deleted, never stored.
type ReactionEntry struct {
	Count       int      `json:"count"`
	Users       []string `json:"users"`
	UserReacted bool     `json:"userReacted"`
}

// ReplyTo is the snapshot of a replied-to message carried on the reply.
type ReplyTo struct {
	Id       int64  `json:"id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Message is one chat room message. Ids are server-assigned and strictly
// increasing within a room. LikesCount is a string on the wire.
type Message struct {
	Id         int64     `json:"id,string"`
	RoomId     int64     `json:"room_id,string"`
	SenderId   string    `json:"sender_id"`
	Username   string    `json:"username"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	Reply      *ReplyTo  `json:"reply,omitempty"`
	Likes      []Like    `json:"likes,omitempty"`
	LikesCount string    `json:"likes_count,omitempty"`
	// RawReactions is the wire form delivered by history fetches.
	RawReactions []ReactionRow `json:"reactions,omitempty"`
	// Reactions is the grouped form the UI renders. nil means no reactions;
	// the map never holds a zero-count entry.
	Reactions map[string]ReactionEntry `json:"-"`
}

// Room is the chat room summary returned alongside a history page.
type Room struct {
	Id          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DirectMessage is a DM thread summary as listed in the sidebar.
type DirectMessage struct {
	Id               int64     `json:"id"`
	Message          string    `json:"message"`
	ThreadId         int64     `json:"threadId"`
	SenderId         int64     `json:"senderId"`
	ReceiverId       int64     `json:"receiverId"`
	CreatedAt        time.Time `json:"createdAt"`
	SenderUsername   string    `json:"senderUsername"`
	ReceiverUsername string    `json:"receiverUsername"`
	IsRead           *bool     `json:"isRead"`
}

// DbDirectMessage is one message in a DM thread.
type DbDirectMessage struct {
	Id         int64     `json:"id"`
	Message    string    `json:"message"`
	ThreadId   int64     `json:"thread_id"`
	SenderId   int64     `json:"sender_id"`
	ReceiverId int64     `json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// UserDmRead is the per-user read cursor for a DM thread. A nil
// LastReadMessageId means the user has not read anything yet.
type UserDmRead struct {
	UserId            int64  `json:"user_id"`
	ThreadId          int64  `json:"thread_id"`
	LastReadMessageId *int64 `json:"last_read_message_id"`
}

// Counterpart returns the username of the other participant in a thread
// summary, relative to the given local username.
func (dm DirectMessage) Counterpart(username string) string {
	if dm.SenderUsername == username {
		return dm.ReceiverUsername
	}
	return dm.SenderUsername
}
