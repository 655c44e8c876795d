package near

import (
	"sync"
	"time"
)

// TurnRole identifies who produced a recorded turn.
type TurnRole string

const (
	// TurnRoleUser is a message written by a channel member
	TurnRoleUser TurnRole = "user"

	// TurnRoleBot is a reply the bot itself sent
	TurnRoleBot TurnRole = "bot"
)

// Turn is one recorded message in a channel's rolling history.
// Turns are immutable once appended.
type Turn struct {
	// Speaker is the author's display name at the time the message was seen
	Speaker string

	// Content is the raw message text
	Content string

	Role TurnRole

	CreatedAt time.Time
}

// NewUserTurn returns a user Turn stamped with the current time.
func NewUserTurn(speaker string, content string) Turn {
	return Turn{
		Speaker:   speaker,
		Content:   content,
		Role:      TurnRoleUser,
		CreatedAt: time.Now(),
	}
}

// NewBotTurn returns a bot Turn stamped with the current time.
func NewBotTurn(speaker string, content string) Turn {
	return Turn{
		Speaker:   speaker,
		Content:   content,
		Role:      TurnRoleBot,
		CreatedAt: time.Now(),
	}
}

// channelState holds the per-channel rolling history and the mutex used to
// serialize replies to that channel. The mutex is held for an entire
// reply pipeline (prompt build, API call, send), so at most one reply is
// in flight per channel while other channels proceed in parallel.
type channelState struct {
	mu    sync.Mutex
	turns []Turn
}

// ChannelRegistry is a concurrency-safe keyed registry of per-channel
// state. Entries are created lazily on the first event for a channel and
// live for the process lifetime - history is intentionally not persisted.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*channelState

	// maxTurns caps each channel's history; oldest turns are evicted
	// first when the cap is exceeded
	maxTurns int
}

// NewChannelRegistry creates a registry with the given per-channel
// history cap. A cap <= 0 falls back to DefaultHistorySize.
func NewChannelRegistry(maxTurns int) *ChannelRegistry {
	if maxTurns <= 0 {
		maxTurns = DefaultHistorySize
	}
	return &ChannelRegistry{
		channels: map[string]*channelState{},
		maxTurns: maxTurns,
	}
}

// get returns the state for the given channel, creating it if needed.
func (r *ChannelRegistry) get(channelID string) *channelState {
	r.mu.RLock()
	ch := r.channels[channelID]
	r.mu.RUnlock()
	if ch != nil {
		return ch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ch = r.channels[channelID]
	if ch == nil {
		ch = &channelState{}
		r.channels[channelID] = ch
	}
	return ch
}

// Append adds a turn to the tail of the channel's history, evicting from
// the head once the cap is exceeded.
//
// Callers already inside WithChannelLock must use AppendLocked instead.
func (r *ChannelRegistry) Append(channelID string, turn Turn) {
	ch := r.get(channelID)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	r.appendTurn(ch, turn)
}

// AppendLocked adds a turn to a channel whose lock is already held by the
// caller (via WithChannelLock).
func (r *ChannelRegistry) AppendLocked(channelID string, turn Turn) {
	r.appendTurn(r.get(channelID), turn)
}

func (r *ChannelRegistry) appendTurn(ch *channelState, turn Turn) {
	ch.turns = append(ch.turns, turn)
	if len(ch.turns) > r.maxTurns {
		overflow := len(ch.turns) - r.maxTurns
		ch.turns = append([]Turn(nil), ch.turns[overflow:]...)
	}
}

// Snapshot returns a copy of the channel's history in insertion order
// (oldest first). The copy is independent of subsequent appends or
// evictions.
func (r *ChannelRegistry) Snapshot(channelID string) []Turn {
	ch := r.get(channelID)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]Turn(nil), ch.turns...)
}

// SnapshotLocked is Snapshot for callers already inside WithChannelLock.
func (r *ChannelRegistry) SnapshotLocked(channelID string) []Turn {
	ch := r.get(channelID)
	return append([]Turn(nil), ch.turns...)
}

// Len returns the number of turns currently held for the channel.
func (r *ChannelRegistry) Len(channelID string) int {
	ch := r.get(channelID)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.turns)
}

// ChannelCount returns the number of channels with state in the registry.
func (r *ChannelRegistry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// WithChannelLock runs fn while holding the channel's reply lock. The
// lock is released on all exit paths, including an error or panic in fn.
// Locks are per channel: calls for different channels do not block each
// other.
func (r *ChannelRegistry) WithChannelLock(channelID string, fn func() error) error {
	ch := r.get(channelID)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return fn()
}
