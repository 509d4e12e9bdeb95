// Package timeline holds the local state reconciliation core: the ordered
// per-room message timeline, scroll anchoring, like/reaction bookkeeping
// and DM read cursors. Everything here merges a paginated historical
// fetch, the live event stream and server-confirmed local mutations into
// one consistent view per room or thread.
package timeline

import (
	"cmp"
	"errors"
	"slices"

	"github.com/rs/zerolog"

	"github.com/kmarchetti/go-chatsync/internal/types"
)

var (
	// ErrNoMoreHistory means a previous fetch already signaled the room has
	// no older messages; the latch is permanent for the timeline's lifetime.
	ErrNoMoreHistory = errors.New("no more history")
	// ErrFetchInFlight suppresses a second pagination fetch while one is
	// outstanding.
	ErrFetchInFlight = errors.New("fetch already in flight")
	// ErrDuplicateFetch suppresses re-fetching a boundary that already
	// completed.
	ErrDuplicateFetch = errors.New("boundary already fetched")
	// ErrStaleRoom rejects a message addressed to a different room.
	ErrStaleRoom = errors.New("message for another room")
	// ErrNothingLoaded means pagination was requested before any initial
	// page loaded; there is no boundary to page backward from.
	ErrNothingLoaded = errors.New("no messages loaded")
)

// State is the per-room loading state.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateLoadingOlder
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadingOlder:
		return "loading-older"
	case StateError:
		return "error"
	default:
		return "empty"
	}
}

// Timeline is the authoritative ordered message view for one room. The
// sequence is always sorted ascending by id with no duplicates; external
// batches merge by id and an incoming copy of an existing id is ignored.
//
// A Timeline is not safe for concurrent use; it is owned by the session
// dispatch loop, the same way a chat server's room state is owned by the
// room's own goroutine.
type Timeline struct {
	roomId   int64
	username string
	log      zerolog.Logger

	state State
	err   error
	msgs  []types.Message

	hasMore bool
	// inflight is the boundary id of the outstanding pagination fetch,
	// nil when none is outstanding.
	inflight *int64
	fetched  map[int64]struct{}

	anchor ScrollAnchor
}

func New(roomId int64, username string, logger zerolog.Logger) *Timeline {
	return &Timeline{
		roomId:   roomId,
		username: username,
		log:      logger.With().Str("component", "timeline").Int64("room_id", roomId).Logger(),
		state:    StateEmpty,
		hasMore:  true,
		fetched:  make(map[int64]struct{}),
	}
}

func (t *Timeline) RoomId() int64 { return t.roomId }
func (t *Timeline) State() State  { return t.state }
func (t *Timeline) Err() error    { return t.err }

// Anchor exposes the timeline's scroll decisions to the view layer.
func (t *Timeline) Anchor() *ScrollAnchor { return &t.anchor }

// Messages returns the ordered sequence. The slice is owned by the
// timeline; callers rendering asynchronously must copy it.
func (t *Timeline) Messages() []types.Message { return t.msgs }

// HasMore reports whether older history may still exist.
func (t *Timeline) HasMore() bool { return t.hasMore }

// OldestId is the pagination boundary: the id of the oldest loaded
// message, or 0 when nothing is loaded.
func (t *Timeline) OldestId() int64 {
	if len(t.msgs) == 0 {
		return 0
	}
	return t.msgs[0].Id
}

// BeginInitial marks the initial newest-page fetch as started. A retry
// from the error state keeps any previously loaded messages.
func (t *Timeline) BeginInitial() {
	t.state = StateLoading
	t.err = nil
}

// ApplyInitial merges the newest history page. The server delivers pages
// newest-first; merging by id leaves the sequence ascending regardless of
// batch order, and also folds in any live messages that raced ahead of
// the initial load.
func (t *Timeline) ApplyInitial(msgs []types.Message) {
	for _, msg := range msgs {
		t.merge(normalize(msg, t.username))
	}
	t.state = StateReady
	t.err = nil
	t.anchor.RequestBottom()
}

// FailInitial records a room-level load failure. Previously loaded
// messages are preserved, not cleared.
func (t *Timeline) FailInitial(err error) {
	t.state = StateError
	t.err = err
	t.log.Error().Err(err).Msg("initial load failed")
}

// BeginOlder guards and starts a backward pagination fetch for the given
// boundary id. Exactly one network call may be issued per boundary.
func (t *Timeline) BeginOlder(beforeId int64) error {
	if !t.hasMore {
		return ErrNoMoreHistory
	}
	if t.inflight != nil {
		return ErrFetchInFlight
	}
	if _, ok := t.fetched[beforeId]; ok {
		return ErrDuplicateFetch
	}

	t.inflight = &beforeId
	t.state = StateLoadingOlder
	return nil
}

// ApplyOlder merges an older history page. An empty result permanently
// latches "no more history". prevHeight is the viewport content height
// before the prepend, recorded so the view can keep the visible messages
// stationary.
func (t *Timeline) ApplyOlder(beforeId int64, msgs []types.Message, prevHeight int) {
	if t.inflight == nil || *t.inflight != beforeId {
		t.log.Debug().Int64("before_id", beforeId).Msg("stale pagination result discarded")
		return
	}
	t.inflight = nil
	t.state = StateReady

	if len(msgs) == 0 {
		t.hasMore = false
		return
	}

	t.fetched[beforeId] = struct{}{}
	for _, msg := range msgs {
		t.merge(normalize(msg, t.username))
	}
	t.anchor.RequestPreserve(prevHeight)
}

// FailOlder resolves a failed pagination fetch. The boundary stays
// eligible for a retry and the timeline stays Ready: a pagination failure
// never discards loaded messages.
func (t *Timeline) FailOlder(beforeId int64, err error) {
	if t.inflight == nil || *t.inflight != beforeId {
		return
	}
	t.inflight = nil
	t.state = StateReady
	t.log.Warn().Err(err).Int64("before_id", beforeId).Msg("pagination fetch failed")
}

// AppendLive merges a message delivered by the stream. Messages for a
// different room are rejected, arrival before the initial load completes
// is tolerated, and an out-of-order arrival still lands in ascending
// position by id.
func (t *Timeline) AppendLive(msg types.Message) error {
	if msg.RoomId != t.roomId {
		return ErrStaleRoom
	}
	if t.merge(normalize(msg, t.username)) {
		t.anchor.RequestBottom()
	}
	return nil
}

// Replace swaps the stored message with the given id for the new value.
// This is the only mutation path for like/reaction reconciliation; the
// message is replaced wholesale so identity-based change detection in the
// view layer keeps working.
func (t *Timeline) Replace(msg types.Message) bool {
	idx, found := t.search(msg.Id)
	if !found {
		return false
	}
	t.msgs[idx] = msg
	return true
}

// Get returns the stored message with the given id.
func (t *Timeline) Get(id int64) (types.Message, bool) {
	idx, found := t.search(id)
	if !found {
		return types.Message{}, false
	}
	return t.msgs[idx], true
}

// Reset clears all state, used when switching rooms.
func (t *Timeline) Reset() {
	t.msgs = nil
	t.state = StateEmpty
	t.err = nil
	t.hasMore = true
	t.inflight = nil
	t.fetched = make(map[int64]struct{})
	t.anchor.Reset()
}

// merge inserts the message in ascending id position. A duplicate id is
// ignored, never overwritten. Reports whether the message was inserted.
func (t *Timeline) merge(msg types.Message) bool {
	idx, found := t.search(msg.Id)
	if found {
		return false
	}
	t.msgs = slices.Insert(t.msgs, idx, msg)
	return true
}

func (t *Timeline) search(id int64) (int, bool) {
	return slices.BinarySearchFunc(t.msgs, id, func(m types.Message, target int64) int {
		return cmp.Compare(m.Id, target)
	})
}

// normalize converts the wire form of a message to the local form:
// history pages deliver reactions as flat rows, the UI wants the grouped
// per-emoji aggregate.
func normalize(msg types.Message, username string) types.Message {
	if len(msg.RawReactions) > 0 {
		msg.Reactions = GroupReactions(msg.RawReactions, username)
		msg.RawReactions = nil
	}
	return msg
}
