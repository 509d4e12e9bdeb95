// Package session ties the stream connection, the REST client and the
// per-room reconciliation state together behind the operations a view
// layer calls. All mutable state is owned by a single dispatch goroutine;
// REST completions re-enter through it and re-validate that their target
// room is still active before applying anything.
package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/kmarchetti/go-chatsync/internal/config"
	"github.com/kmarchetti/go-chatsync/internal/rest"
	"github.com/kmarchetti/go-chatsync/internal/stream"
	"github.com/kmarchetti/go-chatsync/internal/timeline"
	"github.com/kmarchetti/go-chatsync/internal/types"
)

type roomView struct {
	timeline *timeline.Timeline
	sub      *stream.Subscription
	members  []string
}

type threadView struct {
	threadId    int64
	otherUserId int64
	msgs        []types.DbDirectMessage
	tracker     *timeline.ReadTracker
	sub         *stream.Subscription
}

type Session struct {
	cfg    *config.Config
	log    zerolog.Logger
	conn   *stream.Conn
	api    *rest.Client
	creds  types.Credentials
	userId int64

	ops     chan func()
	done    chan struct{}
	updates chan struct{}

	// owned by the dispatch goroutine
	rooms      map[int64]*roomView
	activeRoom int64
	thread     *threadView
}

func New(cfg *config.Config, conn *stream.Conn, api *rest.Client, creds types.Credentials, logger zerolog.Logger) (*Session, error) {
	userId, err := strconv.ParseInt(creds.UserId, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", creds.UserId, err)
	}

	return &Session{
		cfg:     cfg,
		log:     logger.With().Str("component", "session").Logger(),
		conn:    conn,
		api:     api,
		creds:   creds,
		userId:  userId,
		ops:     make(chan func(), 64),
		done:    make(chan struct{}),
		updates: make(chan struct{}, 1),
		rooms:   make(map[int64]*roomView),
	}, nil
}

// Start runs the dispatch loop until Close.
func (s *Session) Start() {
	go s.run()
}

func (s *Session) Close() {
	close(s.done)
}

// Updates signals (coalesced) that some view state changed.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) run() {
	events := s.conn.Events()
	for {
		select {
		case frame := <-events:
			s.handleFrame(frame)
		case op := <-s.ops:
			op()
		case <-s.done:
			return
		}
	}
}

// dispatch hands an op to the loop goroutine.
func (s *Session) dispatch(op func()) {
	select {
	case s.ops <- op:
	case <-s.done:
	}
}

// call runs an op on the loop goroutine and waits for it.
func (s *Session) call(op func()) {
	ran := make(chan struct{})
	s.dispatch(func() {
		op()
		close(ran)
	})
	select {
	case <-ran:
	case <-s.done:
	}
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// OpenRoom makes roomId the active room: registers the subscription,
// fetches the newest history page and the member roster, and applies them
// unless the user has since navigated to a different room.
func (s *Session) OpenRoom(ctx context.Context, roomId int64) error {
	s.call(func() {
		rv, ok := s.rooms[roomId]
		if !ok {
			rv = &roomView{
				timeline: timeline.New(roomId, s.creds.Username, s.log),
				sub:      s.conn.Subscribe(stream.KindRoom, strconv.FormatInt(roomId, 10)),
			}
			s.rooms[roomId] = rv
		}
		s.activeRoom = roomId
		rv.timeline.BeginInitial()
	})

	page, err := s.api.RoomHistory(ctx, roomId, 0, s.cfg.PageSize)
	if err != nil {
		s.dispatch(func() {
			if rv, ok := s.rooms[roomId]; ok {
				rv.timeline.FailInitial(err)
				s.notify()
			}
		})
		return err
	}

	members, err := s.api.RoomMembers(ctx, roomId)
	if err != nil {
		s.dispatch(func() {
			if rv, ok := s.rooms[roomId]; ok {
				rv.timeline.FailInitial(err)
				s.notify()
			}
		})
		return err
	}

	s.dispatch(func() {
		rv, ok := s.rooms[roomId]
		if !ok || s.activeRoom != roomId {
			// navigated away before the fetch resolved
			return
		}
		rv.timeline.ApplyInitial(page.Messages)
		rv.members = members
		s.notify()
	})
	return nil
}

// LeaveRoom drops the room's subscription and local state. The leave
// event is suppressed when navTarget still points into the room.
func (s *Session) LeaveRoom(roomId int64, navTarget string) {
	s.call(func() {
		rv, ok := s.rooms[roomId]
		if !ok {
			return
		}
		rv.sub.Leave(navTarget)
		rv.timeline.Reset()
		delete(s.rooms, roomId)
		if s.activeRoom == roomId {
			s.activeRoom = 0
		}
	})
}

// LoadOlder fetches the page before the oldest loaded message.
// prevHeight is the viewport content height at call time, recorded for
// the scroll offset adjustment. Duplicate and exhausted fetches are
// suppressed and reported via the timeline's sentinel errors.
func (s *Session) LoadOlder(ctx context.Context, roomId int64, prevHeight int) error {
	var beforeId int64
	var beginErr error
	s.call(func() {
		rv, ok := s.rooms[roomId]
		if !ok {
			beginErr = timeline.ErrStaleRoom
			return
		}
		beforeId = rv.timeline.OldestId()
		if beforeId == 0 {
			beginErr = timeline.ErrNothingLoaded
			return
		}
		beginErr = rv.timeline.BeginOlder(beforeId)
	})
	if beginErr != nil {
		return beginErr
	}

	page, err := s.api.RoomHistory(ctx, roomId, beforeId, s.cfg.PageSize)
	s.dispatch(func() {
		rv, ok := s.rooms[roomId]
		if !ok {
			return
		}
		if err != nil {
			rv.timeline.FailOlder(beforeId, err)
		} else {
			rv.timeline.ApplyOlder(beforeId, page.Messages, prevHeight)
		}
		s.notify()
	})
	return err
}

// SendMessage emits a room message. The send is confirm-only: the message
// enters the timeline when the stream echoes it back with its
// server-assigned id, so no local placeholder is injected. When the
// connection is down the send is dropped, not queued.
func (s *Session) SendMessage(roomId int64, body string, replyId *int64) error {
	return s.conn.Emit(stream.EvChatMessage, stream.ChatMessageOut{
		RoomId:   strconv.FormatInt(roomId, 10),
		SenderId: s.creds.UserId,
		Username: s.creds.Username,
		Message:  body,
		ReplyId:  replyId,
	})
}

// ToggleLike flips the current user's like on a message in the active
// room and reconciles the confirmed result into the timeline. The room is
// captured at call time: message ids are only unique within a room, so a
// result arriving after a navigation is discarded, never applied to
// whichever room is active by then.
func (s *Session) ToggleLike(ctx context.Context, messageId int64) error {
	var roomId int64
	s.call(func() { roomId = s.activeRoom })

	res, err := s.api.ToggleLike(ctx, messageId)
	if err != nil {
		return err
	}

	s.dispatch(func() {
		rv, ok := s.rooms[roomId]
		if !ok || s.activeRoom != roomId {
			return
		}
		if msg, ok := rv.timeline.Get(messageId); ok {
			rv.timeline.Replace(timeline.ApplyLikeResult(msg, res.Liked, res.LikeId, s.creds.Username))
			s.notify()
		}
	})
	return nil
}

// ToggleReaction flips the current user's emoji reaction on a message in
// the active room and reconciles the confirmed result. Same stale-room
// discard as ToggleLike.
func (s *Session) ToggleReaction(ctx context.Context, messageId int64, emoji string) error {
	var roomId int64
	s.call(func() { roomId = s.activeRoom })

	res, err := s.api.ToggleReaction(ctx, messageId, emoji)
	if err != nil {
		return err
	}

	s.dispatch(func() {
		rv, ok := s.rooms[roomId]
		if !ok || s.activeRoom != roomId {
			return
		}
		if msg, ok := rv.timeline.Get(messageId); ok {
			rv.timeline.Replace(timeline.ApplyReactionResult(msg, emoji, res.ReactedTo, s.creds.Username))
			s.notify()
		}
	})
	return nil
}

// ListThreads fetches the DM thread summaries.
func (s *Session) ListThreads(ctx context.Context) ([]types.DirectMessage, error) {
	return s.api.ListThreads(ctx)
}

// OpenThread opens (or creates) the DM thread with the given user and
// subscribes to it. The read receipt for already-delivered messages is
// emitted once the join handshake is acknowledged.
func (s *Session) OpenThread(ctx context.Context, otherUserId int64) error {
	state, err := s.api.OpenThread(ctx, otherUserId)
	if err != nil {
		return err
	}

	s.call(func() {
		if s.thread != nil {
			s.thread.sub.Leave("")
		}
		s.thread = &threadView{
			threadId:    state.ThreadId,
			otherUserId: otherUserId,
			msgs:        state.Messages,
			tracker:     timeline.NewReadTracker(state.ThreadId, s.userId, state.UserDmRead, state.OtherUserDmRead),
			sub:         s.conn.Subscribe(stream.KindDirect, strconv.FormatInt(state.ThreadId, 10)),
		}
		s.notify()
	})
	return nil
}

// CloseThread leaves the active DM thread.
func (s *Session) CloseThread(navTarget string) {
	s.call(func() {
		if s.thread == nil {
			return
		}
		s.thread.sub.Leave(navTarget)
		s.thread = nil
	})
}

// SendDirect emits a DM on the active thread. Confirm-only, like room
// sends: the message appears when the broadcast arrives.
func (s *Session) SendDirect(body string) error {
	var out stream.DirectMessageOut
	var ready bool
	s.call(func() {
		if s.thread == nil {
			return
		}
		out = stream.DirectMessageOut{
			SenderId:   s.creds.UserId,
			ReceiverId: s.thread.otherUserId,
			Message:    body,
			ThreadId:   s.thread.threadId,
		}
		ready = true
	})
	if !ready {
		return fmt.Errorf("no active thread")
	}
	return s.conn.Emit(stream.EvDirectMessage, out)
}

// RoomSnapshot is a render-safe copy of one room's view state.
type RoomSnapshot struct {
	Messages []types.Message
	Members  []string
	State    timeline.State
	Err      error
	HasMore  bool
}

func (s *Session) RoomSnapshot(roomId int64) (RoomSnapshot, bool) {
	var snap RoomSnapshot
	var ok bool
	s.call(func() {
		rv, found := s.rooms[roomId]
		if !found {
			return
		}
		ok = true
		snap.Messages = append([]types.Message(nil), rv.timeline.Messages()...)
		snap.Members = append([]string(nil), rv.members...)
		snap.State = rv.timeline.State()
		snap.Err = rv.timeline.Err()
		snap.HasMore = rv.timeline.HasMore()
	})
	return snap, ok
}

// ConsumeScroll returns the pending scroll decision for a room: whether
// to scroll to bottom, and the offset delta for a preserve request given
// the current content height. Both are one-shot.
func (s *Session) ConsumeScroll(roomId int64, newHeight int) (toBottom bool, delta int, preserve bool) {
	s.call(func() {
		rv, ok := s.rooms[roomId]
		if !ok {
			return
		}
		toBottom = rv.timeline.Anchor().ConsumeBottom()
		delta, preserve = rv.timeline.Anchor().Adjustment(newHeight)
	})
	return
}

// ThreadSnapshot is a render-safe copy of the active DM thread.
type ThreadSnapshot struct {
	ThreadId          int64
	Messages          []types.DbDirectMessage
	LastReadMessageId int64
}

func (s *Session) ThreadSnapshot() (ThreadSnapshot, bool) {
	var snap ThreadSnapshot
	var ok bool
	s.call(func() {
		if s.thread == nil {
			return
		}
		ok = true
		snap.ThreadId = s.thread.threadId
		snap.Messages = append([]types.DbDirectMessage(nil), s.thread.msgs...)
		snap.LastReadMessageId = s.thread.tracker.LastReadMessageId()
	})
	return snap, ok
}
