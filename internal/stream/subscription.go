package stream

import (
	"strings"
	"sync/atomic"
)

// Kind distinguishes chat room subscriptions from DM thread subscriptions.
type Kind int

const (
	KindRoom Kind = iota
	KindDirect
)

// Subscription tracks the join/leave lifecycle for one room or DM thread.
// Joins are re-sent automatically after every reconnect, so a Subscription
// stays valid across transport failures.
type Subscription struct {
	conn   *Conn
	kind   Kind
	id     string
	joined atomic.Bool
}

func subKey(kind Kind, id string) string {
	if kind == KindDirect {
		return "dm:" + id
	}
	return "room:" + id
}

// Subscribe registers a subscription for the given room or thread and
// emits the join immediately if the connection is live. If the connection
// is still dialing, the join is sent when it becomes ready.
func (c *Conn) Subscribe(kind Kind, id string) *Subscription {
	sub := &Subscription{conn: c, kind: kind, id: id}

	c.mu.Lock()
	c.subs[subKey(kind, id)] = sub
	// the transport is live during the rejoin window too; a duplicate
	// join is idempotent server-side, a missed one is not recoverable
	live := c.state == StateReady || c.state == StateRejoining
	c.mu.Unlock()

	if live {
		if err := c.Emit(sub.joinEvent(), id); err != nil {
			c.log.Error().Err(err).Str("room", id).Msg("join emit failed")
		}
	}

	return sub
}

func (s *Subscription) joinEvent() string {
	if s.kind == KindDirect {
		return EvJoinDm
	}
	return EvJoinRoom
}

func (s *Subscription) leaveEvent() string {
	if s.kind == KindDirect {
		return EvLeaveDm
	}
	return EvLeaveRoom
}

// Path is the navigation path associated with the subscription, used to
// detect whether a navigation target stays within the same room.
func (s *Subscription) Path() string {
	if s.kind == KindDirect {
		return "/messages/" + s.id
	}
	return "/chatroom/" + s.id
}

// Joined reports whether the server has acknowledged the DM join
// handshake on the current transport. Room joins carry no ack and always
// report false.
func (s *Subscription) Joined() bool {
	return s.joined.Load()
}

// Leave unregisters the subscription. The leave event is suppressed when
// the navigation target still points into the same room, so a refresh
// within a room does not drop membership.
func (s *Subscription) Leave(navTarget string) {
	c := s.conn

	c.mu.Lock()
	delete(c.subs, subKey(s.kind, s.id))
	c.mu.Unlock()

	if navTarget != "" && strings.Contains(navTarget, s.Path()) {
		c.log.Debug().Str("room", s.id).Msg("staying in room, leave suppressed")
		return
	}

	if err := c.Emit(s.leaveEvent(), s.id); err != nil {
		c.log.Debug().Err(err).Str("room", s.id).Msg("leave emit dropped")
	}
}
