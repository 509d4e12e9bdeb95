package stream

import (
	"encoding/json"

	"github.com/kmarchetti/go-chatsync/internal/types"
)

// Event names shared with the server.
const (
	EvJoinRoom       = "join room"
	EvLeaveRoom      = "leave room"
	EvChatMessage    = "chat message"
	EvMembersUpdated = "members:updated"
	EvJoinDm         = "join dm"
	EvLeaveDm        = "leave dm"
	EvJoinedDm       = "joined dm"
	EvDirectMessage  = "dm message"
	EvDmMessageRead  = "dm message read"

	// Local lifecycle events, never sent on the wire.
	EvConnect    = "connect"
	EvDisconnect = "disconnect"
	EvReady      = "ready"
)

// Frame is the envelope for every message on the stream connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newFrame(event string, v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}

// authPayload is sent as the first frame after dialing, mirroring the
// handshake auth the server expects.
type authPayload struct {
	Username string `json:"username"`
	UserId   string `json:"userId"`
	Token    string `json:"token"`
}

// ChatMessageOut is the payload for sending a room message.
type ChatMessageOut struct {
	RoomId   string `json:"roomId"`
	SenderId string `json:"senderId"`
	Username string `json:"username"`
	Message  string `json:"message"`
	ReplyId  *int64 `json:"replyId,omitempty"`
}

// DirectMessageOut is the payload for sending a DM.
type DirectMessageOut struct {
	SenderId   string `json:"senderId"`
	ReceiverId int64  `json:"receiverId"`
	Message    string `json:"message"`
	ThreadId   int64  `json:"threadId"`
}

// ReadReceiptOut propagates the local user's read cursor for a thread.
type ReadReceiptOut struct {
	ThreadId  int64 `json:"threadId"`
	UserId    int64 `json:"userId"`
	MessageId int64 `json:"messageId"`
}

// DirectMessageIn is the broadcast payload for a new DM.
type DirectMessageIn struct {
	ThreadId int64                 `json:"thread_id"`
	Message  types.DbDirectMessage `json:"message"`
}
