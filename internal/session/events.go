package session

import (
	"encoding/json"

	"github.com/kmarchetti/go-chatsync/internal/stream"
	"github.com/kmarchetti/go-chatsync/internal/types"
)

// handleFrame applies one stream event. Runs on the dispatch goroutine.
func (s *Session) handleFrame(frame stream.Frame) {
	switch frame.Event {
	case stream.EvChatMessage:
		s.handleChatMessage(frame.Data)
	case stream.EvMembersUpdated:
		s.handleMembersUpdated(frame.Data)
	case stream.EvDirectMessage:
		s.handleDirectMessage(frame.Data)
	case stream.EvDmMessageRead:
		s.handleMessageRead(frame.Data)
	case stream.EvJoinedDm:
		s.handleJoinedDm()
	case stream.EvConnect:
		s.log.Debug().Msg("stream connected")
	case stream.EvReady:
		s.log.Debug().Msg("stream ready, rooms rejoined")
		s.notify()
	case stream.EvDisconnect:
		s.log.Debug().Msg("stream disconnected")
		s.notify()
	}
}

func (s *Session) handleChatMessage(data json.RawMessage) {
	var msg types.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn().Err(err).Msg("malformed chat message event")
		return
	}

	// route by the room the message belongs to, never the active room: a
	// message for room A must not land in room B's timeline
	rv, ok := s.rooms[msg.RoomId]
	if !ok {
		s.log.Debug().Int64("room_id", msg.RoomId).Msg("message for unsubscribed room dropped")
		return
	}
	if err := rv.timeline.AppendLive(msg); err != nil {
		s.log.Debug().Err(err).Int64("room_id", msg.RoomId).Msg("live message dropped")
		return
	}
	s.notify()
}

func (s *Session) handleMembersUpdated(data json.RawMessage) {
	var members []string
	if err := json.Unmarshal(data, &members); err != nil {
		s.log.Warn().Err(err).Msg("malformed members event")
		return
	}

	// the roster event carries no room id; it applies to the active room
	// and replaces the roster wholesale
	rv, ok := s.rooms[s.activeRoom]
	if !ok {
		return
	}
	rv.members = members
	s.notify()
}

func (s *Session) handleDirectMessage(data json.RawMessage) {
	var in stream.DirectMessageIn
	if err := json.Unmarshal(data, &in); err != nil {
		s.log.Warn().Err(err).Msg("malformed dm event")
		return
	}

	if s.thread == nil || s.thread.threadId != in.ThreadId {
		s.log.Debug().Int64("thread_id", in.ThreadId).Msg("dm for inactive thread dropped")
		return
	}
	s.thread.msgs = append(s.thread.msgs, in.Message)
	s.notify()
}

func (s *Session) handleMessageRead(data json.RawMessage) {
	var ev types.UserDmRead
	if err := json.Unmarshal(data, &ev); err != nil {
		s.log.Warn().Err(err).Msg("malformed read receipt event")
		return
	}

	if s.thread == nil {
		return
	}
	if s.thread.tracker.HandleEvent(ev) {
		s.notify()
	}
}

// handleJoinedDm runs once the server acknowledges the thread join; only
// then is the client registered as present, so only then may the read
// cursor be reported.
func (s *Session) handleJoinedDm() {
	if s.thread == nil {
		return
	}
	// the ack is keyed by thread id on the subscription; an ack left over
	// from a previously open thread must not trigger the new thread's
	// receipt before its own handshake completes
	if !s.thread.sub.Joined() {
		return
	}

	receipt, ok := s.thread.tracker.NextReceipt(s.thread.msgs)
	if !ok {
		return
	}

	// fire-and-forget
	if err := s.conn.Emit(stream.EvDmMessageRead, stream.ReadReceiptOut{
		ThreadId:  receipt.ThreadId,
		UserId:    receipt.UserId,
		MessageId: receipt.MessageId,
	}); err != nil {
		s.log.Debug().Err(err).Msg("read receipt emit dropped")
	}
}
