package timeline

import (
	"github.com/kmarchetti/go-chatsync/internal/types"
)

// ReadReceipt is the read-cursor event emitted on the stream.
type ReadReceipt struct {
	ThreadId  int64
	UserId    int64
	MessageId int64
}

// ReadTracker keeps the per-thread read cursors for a DM conversation:
// the local user's own cursor (what to report to the server) and the
// counterpart's cursor (where to render the read marker).
type ReadTracker struct {
	threadId int64
	userId   int64

	// lastEmitted is the local user's last reported read cursor.
	lastEmitted int64
	// lastRead is the counterpart's last-read message id.
	lastRead int64
}

// NewReadTracker seeds a tracker from the cursors delivered when the
// thread is opened. Either cursor may be nil or uninitialized.
func NewReadTracker(threadId, userId int64, own, other *types.UserDmRead) *ReadTracker {
	t := &ReadTracker{threadId: threadId, userId: userId}
	if own != nil && own.LastReadMessageId != nil {
		t.lastEmitted = *own.LastReadMessageId
	}
	if other != nil && other.LastReadMessageId != nil {
		t.lastRead = *other.LastReadMessageId
	}
	return t
}

// LastReadMessageId is the counterpart's read cursor, for the read marker.
func (t *ReadTracker) LastReadMessageId() int64 { return t.lastRead }

// NextReceipt computes the read receipt for the current thread contents:
// the most recent message sent TO the local user that the recorded cursor
// does not already cover. Returns false when there is nothing to report,
// avoiding redundant network chatter. A returned receipt is recorded as
// emitted; callers must only invoke this after the thread-join handshake
// completed, so the server has the client registered as present.
func (t *ReadTracker) NextReceipt(msgs []types.DbDirectMessage) (ReadReceipt, bool) {
	var newest *types.DbDirectMessage
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ReceiverId == t.userId {
			newest = &msgs[i]
			break
		}
	}
	if newest == nil {
		return ReadReceipt{}, false
	}

	if t.lastEmitted == newest.Id {
		return ReadReceipt{}, false
	}

	t.lastEmitted = newest.Id
	return ReadReceipt{
		ThreadId:  t.threadId,
		UserId:    t.userId,
		MessageId: newest.Id,
	}, true
}

// HandleEvent applies an incoming read-receipt event. Events reflecting
// the local user's own action, and events with an uninitialized cursor,
// are dropped. Reports whether the counterpart's cursor changed.
func (t *ReadTracker) HandleEvent(ev types.UserDmRead) bool {
	if ev.UserId == t.userId || ev.LastReadMessageId == nil {
		return false
	}
	t.lastRead = *ev.LastReadMessageId
	return true
}
