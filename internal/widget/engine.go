// Package widget implements the client-side reconciliation engine used by
// the embedded chat widget: optimistic sends, adaptive polling, and
// de-duplication of the polled message feed against local state.
package widget

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convohub/messaging-platform/internal/model"
)

// API is the widget's view of the server. The HTTP implementation lives in
// this package; tests substitute a fake.
type API interface {
	Init(ctx context.Context, botKey, externalUserID string) (*InitResult, error)
	Send(ctx context.Context, conversationID, content string) (*SendResult, error)
	Messages(ctx context.Context, conversationID string, since time.Time) (*PollResult, error)
}

// InitResult is the server's bootstrap response.
type InitResult struct {
	ConversationID string
	ExternalUserID string
	WelcomeMessage string
	Status         model.ConversationStatus
	IsAIPaused     bool
}

// SendResult confirms a send with the authoritative server identity.
type SendResult struct {
	MessageID  string
	CreatedAt  time.Time
	Reply      *model.Message
	Status     model.ConversationStatus
	IsAIPaused bool
}

// PollResult is one page of the polled message feed.
type PollResult struct {
	Messages   []model.Message
	Status     model.ConversationStatus
	IsAIPaused bool
}

// EntryStatus is the delivery state of a rendered entry.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntrySent    EntryStatus = "sent"
	EntryFailed  EntryStatus = "failed"
)

// Entry is one rendered line in the widget. Synthesized entries exist only
// client-side and never carry a server id.
type Entry struct {
	ID          string
	LocalID     string
	Sender      model.Sender
	Content     string
	Status      EntryStatus
	CreatedAt   time.Time
	Synthesized bool
}

// Intervals configures adaptive polling.
type Intervals struct {
	Open   time.Duration
	Closed time.Duration
}

// DefaultIntervals keep the open widget responsive while bounding server
// load from backgrounded tabs.
var DefaultIntervals = Intervals{Open: 4 * time.Second, Closed: 12 * time.Second}

// Engine reconciles optimistic local state against the polled server feed.
// All state lives on the engine value so the protocol is testable without
// a browser runtime.
type Engine struct {
	api       API
	botKey    string
	intervals Intervals

	mu             sync.Mutex
	conversationID string
	externalUserID string
	entries        []Entry
	seen           map[string]struct{}
	pendingLocalID string
	cursor         time.Time
	open           bool
	pollInFlight   bool
	status         model.ConversationStatus
	paused         bool
	ready          bool
}

// NewEngine creates an engine for one widget instance.
func NewEngine(api API, botKey string, intervals Intervals) *Engine {
	if intervals.Open <= 0 {
		intervals.Open = DefaultIntervals.Open
	}
	if intervals.Closed <= 0 {
		intervals.Closed = DefaultIntervals.Closed
	}
	return &Engine{
		api:       api,
		botKey:    botKey,
		intervals: intervals,
		seen:      make(map[string]struct{}),
	}
}

// Init bootstraps the conversation. externalUserID may be empty on first
// visit; the server assigns one. The welcome message is rendered as a
// synthesized bot entry.
func (e *Engine) Init(ctx context.Context, externalUserID string) error {
	res, err := e.api.Init(ctx, e.botKey, externalUserID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.conversationID = res.ConversationID
	e.externalUserID = res.ExternalUserID
	e.status = res.Status
	e.paused = res.IsAIPaused
	e.ready = true
	if res.WelcomeMessage != "" && len(e.entries) == 0 {
		e.entries = append(e.entries, Entry{
			LocalID:     uuid.New().String(),
			Sender:      model.SenderBot,
			Content:     res.WelcomeMessage,
			Status:      EntrySent,
			CreatedAt:   time.Now(),
			Synthesized: true,
		})
	}
	return nil
}

// Submit renders the message immediately as pending, then confirms it in
// place from the send response. A failed send marks the same entry failed;
// it is never dropped.
func (e *Engine) Submit(ctx context.Context, content string) (string, error) {
	e.mu.Lock()
	localID := uuid.New().String()
	e.entries = append(e.entries, Entry{
		LocalID:   localID,
		Sender:    model.SenderUser,
		Content:   content,
		Status:    EntryPending,
		CreatedAt: time.Now(),
	})
	e.pendingLocalID = localID
	conversationID := e.conversationID
	e.mu.Unlock()

	res, err := e.api.Send(ctx, conversationID, content)

	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.indexByLocalID(localID)
	if err != nil {
		if idx >= 0 {
			e.entries[idx].Status = EntryFailed
		}
		e.pendingLocalID = ""
		return localID, err
	}

	if idx >= 0 && e.entries[idx].ID == "" {
		// Normal path: the send response confirms the placeholder in its
		// original position.
		e.confirmLocked(idx, res.MessageID, res.CreatedAt)
	}
	// Otherwise a poll raced the send response and already reconciled the
	// placeholder; the seen set makes this a no-op.
	e.seen[res.MessageID] = struct{}{}
	e.advanceCursorLocked(res.CreatedAt)
	if e.pendingLocalID == localID {
		e.pendingLocalID = ""
	}

	if res.Reply != nil {
		e.absorbLocked(*res.Reply)
	}
	e.applyStatusLocked(res.Status, res.IsAIPaused)
	return localID, nil
}

// Retry resubmits a failed entry in place.
func (e *Engine) Retry(ctx context.Context, localID string) error {
	e.mu.Lock()
	idx := e.indexByLocalID(localID)
	if idx < 0 || e.entries[idx].Status != EntryFailed {
		e.mu.Unlock()
		return nil
	}
	e.entries[idx].Status = EntryPending
	e.pendingLocalID = localID
	content := e.entries[idx].Content
	conversationID := e.conversationID
	e.mu.Unlock()

	res, err := e.api.Send(ctx, conversationID, content)

	e.mu.Lock()
	defer e.mu.Unlock()
	idx = e.indexByLocalID(localID)
	if err != nil {
		if idx >= 0 {
			e.entries[idx].Status = EntryFailed
		}
		e.pendingLocalID = ""
		return err
	}
	if idx >= 0 && e.entries[idx].ID == "" {
		e.confirmLocked(idx, res.MessageID, res.CreatedAt)
	}
	e.seen[res.MessageID] = struct{}{}
	e.advanceCursorLocked(res.CreatedAt)
	if e.pendingLocalID == localID {
		e.pendingLocalID = ""
	}
	if res.Reply != nil {
		e.absorbLocked(*res.Reply)
	}
	e.applyStatusLocked(res.Status, res.IsAIPaused)
	return nil
}

// Poll fetches messages after the cursor and reconciles them into local
// state. Overlapping polls are skipped; errors are swallowed so transient
// failures stay invisible, the next tick retries.
func (e *Engine) Poll(ctx context.Context) {
	e.mu.Lock()
	if !e.ready || e.pollInFlight {
		e.mu.Unlock()
		return
	}
	e.pollInFlight = true
	conversationID := e.conversationID
	cursor := e.cursor
	e.mu.Unlock()

	res, err := e.api.Messages(ctx, conversationID, cursor)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pollInFlight = false
	if err != nil {
		return
	}
	for _, msg := range res.Messages {
		e.absorbLocked(msg)
	}
	e.applyStatusLocked(res.Status, res.IsAIPaused)
}

// absorbLocked folds one server message into local state: duplicates are
// dropped via the seen set, and an unconfirmed user message is matched to
// the pending placeholder so it keeps its optimistic position.
func (e *Engine) absorbLocked(msg model.Message) {
	if _, dup := e.seen[msg.ID]; dup {
		e.advanceCursorLocked(msg.CreatedAt)
		return
	}
	e.seen[msg.ID] = struct{}{}
	e.advanceCursorLocked(msg.CreatedAt)

	if msg.Sender == model.SenderUser && e.pendingLocalID != "" {
		if idx := e.indexByLocalID(e.pendingLocalID); idx >= 0 && e.entries[idx].ID == "" {
			e.confirmLocked(idx, msg.ID, msg.CreatedAt)
			e.pendingLocalID = ""
			return
		}
	}

	e.entries = append(e.entries, Entry{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Status:    EntrySent,
		CreatedAt: msg.CreatedAt,
	})
}

// applyStatusLocked synthesizes at most one system entry per state
// transition. Repeat polls with an unchanged state emit nothing.
func (e *Engine) applyStatusLocked(status model.ConversationStatus, paused bool) {
	if status == "" {
		return
	}
	prevHuman := e.status == model.StatusHumanTakeover || e.paused
	nowHuman := status == model.StatusHumanTakeover || paused
	changed := e.status != "" && prevHuman != nowHuman
	e.status = status
	e.paused = paused
	if !changed {
		return
	}

	text := "Our assistant is back and ready to help."
	if nowHuman {
		text = "Live support has taken over this conversation."
	}
	e.entries = append(e.entries, Entry{
		LocalID:     uuid.New().String(),
		Sender:      model.SenderSystem,
		Content:     text,
		Status:      EntrySent,
		CreatedAt:   time.Now(),
		Synthesized: true,
	})
}

func (e *Engine) confirmLocked(idx int, serverID string, createdAt time.Time) {
	e.entries[idx].ID = serverID
	e.entries[idx].Status = EntrySent
	if !createdAt.IsZero() {
		e.entries[idx].CreatedAt = createdAt
	}
}

func (e *Engine) advanceCursorLocked(ts time.Time) {
	if ts.After(e.cursor) {
		e.cursor = ts
	}
}

func (e *Engine) indexByLocalID(localID string) int {
	for i := range e.entries {
		if e.entries[i].LocalID == localID {
			return i
		}
	}
	return -1
}

// SetOpen records whether the widget panel is open, which selects the
// polling interval.
func (e *Engine) SetOpen(open bool) {
	e.mu.Lock()
	e.open = open
	e.mu.Unlock()
}

// Interval returns the current polling interval.
func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open {
		return e.intervals.Open
	}
	return e.intervals.Closed
}

// Entries returns a snapshot of the rendered entries in order.
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

// State returns the last known conversation state.
func (e *Engine) State() (model.ConversationStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.paused
}

// Run polls until the context is cancelled, re-reading the adaptive
// interval each tick.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.Interval()):
			e.Poll(ctx)
		}
	}
}
