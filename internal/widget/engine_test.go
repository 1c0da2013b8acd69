package widget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/convohub/messaging-platform/internal/model"
)

type fakeAPI struct {
	initFn     func(ctx context.Context, botKey, externalUserID string) (*InitResult, error)
	sendFn     func(ctx context.Context, conversationID, content string) (*SendResult, error)
	messagesFn func(ctx context.Context, conversationID string, since time.Time) (*PollResult, error)

	sendCalls int
	pollCalls int
}

func (f *fakeAPI) Init(ctx context.Context, botKey, externalUserID string) (*InitResult, error) {
	if f.initFn != nil {
		return f.initFn(ctx, botKey, externalUserID)
	}
	return &InitResult{ConversationID: "conv-1", ExternalUserID: "visitor-1", Status: model.StatusWaiting}, nil
}

func (f *fakeAPI) Send(ctx context.Context, conversationID, content string) (*SendResult, error) {
	f.sendCalls++
	return f.sendFn(ctx, conversationID, content)
}

func (f *fakeAPI) Messages(ctx context.Context, conversationID string, since time.Time) (*PollResult, error) {
	f.pollCalls++
	return f.messagesFn(ctx, conversationID, since)
}

func newReadyEngine(t *testing.T, api *fakeAPI) *Engine {
	t.Helper()
	e := NewEngine(api, "pk_test", DefaultIntervals)
	if err := e.Init(context.Background(), ""); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	return e
}

func userEntries(entries []Entry) []Entry {
	var out []Entry
	for _, en := range entries {
		if en.Sender == model.SenderUser {
			out = append(out, en)
		}
	}
	return out
}

func TestInitRendersWelcomeAsSynthesizedEntry(t *testing.T) {
	api := &fakeAPI{
		initFn: func(ctx context.Context, botKey, externalUserID string) (*InitResult, error) {
			return &InitResult{ConversationID: "conv-1", ExternalUserID: "visitor-1", WelcomeMessage: "Hi! How can we help?", Status: model.StatusWaiting}, nil
		},
	}
	e := newReadyEngine(t, api)

	entries := e.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if !entries[0].Synthesized || entries[0].Sender != model.SenderBot || entries[0].ID != "" {
		t.Fatalf("welcome entry = %+v", entries[0])
	}
}

func TestSubmitConfirmsPlaceholderInPlace(t *testing.T) {
	api := &fakeAPI{
		sendFn: func(ctx context.Context, conversationID, content string) (*SendResult, error) {
			return &SendResult{MessageID: "m1", CreatedAt: time.Now(), Status: model.StatusAIActive}, nil
		},
	}
	e := newReadyEngine(t, api)

	if _, err := e.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	users := userEntries(e.Entries())
	if len(users) != 1 {
		t.Fatalf("user entries = %d, want 1", len(users))
	}
	if users[0].ID != "m1" || users[0].Status != EntrySent {
		t.Fatalf("entry = %+v", users[0])
	}
}

// A poll can return the just-sent message before the send response arrives.
// The placeholder must be reconciled exactly once, keeping its optimistic
// position.
func TestPollRacingSendResponseYieldsOneEntry(t *testing.T) {
	var e *Engine
	api := &fakeAPI{}
	api.messagesFn = func(ctx context.Context, conversationID string, since time.Time) (*PollResult, error) {
		return &PollResult{
			Messages: []model.Message{{ID: "m1", Sender: model.SenderUser, Content: "hello", CreatedAt: time.Now()}},
			Status:   model.StatusAIActive,
		}, nil
	}
	api.sendFn = func(ctx context.Context, conversationID, content string) (*SendResult, error) {
		// The poll lands while the send response is still in flight.
		e.Poll(ctx)
		return &SendResult{MessageID: "m1", CreatedAt: time.Now(), Status: model.StatusAIActive}, nil
	}
	e = newReadyEngine(t, api)

	if _, err := e.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	users := userEntries(e.Entries())
	if len(users) != 1 {
		t.Fatalf("user entries = %d, want exactly 1 after poll race", len(users))
	}
	if users[0].ID != "m1" || users[0].Status != EntrySent {
		t.Fatalf("entry = %+v", users[0])
	}
}

func TestPollDeduplicatesRepeatedMessages(t *testing.T) {
	api := &fakeAPI{
		messagesFn: func(ctx context.Context, conversationID string, since time.Time) (*PollResult, error) {
			return &PollResult{
				Messages: []model.Message{{ID: "b1", Sender: model.SenderBot, Content: "reply", CreatedAt: time.Now()}},
				Status:   model.StatusAIActive,
			}, nil
		},
	}
	e := newReadyEngine(t, api)

	e.Poll(context.Background())
	e.Poll(context.Background())

	var bots int
	for _, en := range e.Entries() {
		if en.Sender == model.SenderBot {
			bots++
		}
	}
	if bots != 1 {
		t.Fatalf("bot entries = %d, want 1", bots)
	}
}

func TestStatusTransitionSynthesizedExactlyOnce(t *testing.T) {
	status := model.StatusAIActive
	paused := false
	api := &fakeAPI{
		messagesFn: func(ctx context.Context, conversationID string, since time.Time) (*PollResult, error) {
			return &PollResult{Status: status, IsAIPaused: paused}, nil
		},
	}
	e := newReadyEngine(t, api)
	ctx := context.Background()

	e.Poll(ctx) // establish ai_active baseline

	status, paused = model.StatusHumanTakeover, true
	e.Poll(ctx)
	e.Poll(ctx) // unchanged state, no second banner

	status, paused = model.StatusAIActive, false
	e.Poll(ctx)

	var system []Entry
	for _, en := range e.Entries() {
		if en.Sender == model.SenderSystem {
			system = append(system, en)
		}
	}
	if len(system) != 2 {
		t.Fatalf("system entries = %d, want one per transition", len(system))
	}
	if !system[0].Synthesized || !system[1].Synthesized {
		t.Fatalf("system entries not synthesized: %+v", system)
	}
}

func TestFailedSendMarkedInPlaceAndRetried(t *testing.T) {
	fail := true
	api := &fakeAPI{
		sendFn: func(ctx context.Context, conversationID, content string) (*SendResult, error) {
			if fail {
				return nil, errors.New("network down")
			}
			return &SendResult{MessageID: "m1", CreatedAt: time.Now(), Status: model.StatusAIActive}, nil
		},
	}
	e := newReadyEngine(t, api)
	ctx := context.Background()

	localID, err := e.Submit(ctx, "hello")
	if err == nil {
		t.Fatal("failed send returned nil error")
	}

	users := userEntries(e.Entries())
	if len(users) != 1 || users[0].Status != EntryFailed {
		t.Fatalf("entries after failure = %+v", users)
	}

	fail = false
	if err := e.Retry(ctx, localID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	users = userEntries(e.Entries())
	if len(users) != 1 || users[0].Status != EntrySent || users[0].ID != "m1" {
		t.Fatalf("entries after retry = %+v", users)
	}
}

func TestOverlappingPollsSkipped(t *testing.T) {
	var e *Engine
	api := &fakeAPI{}
	api.messagesFn = func(ctx context.Context, conversationID string, since time.Time) (*PollResult, error) {
		// A reentrant tick while this poll is in flight must be dropped.
		e.Poll(ctx)
		return &PollResult{Status: model.StatusAIActive}, nil
	}
	e = newReadyEngine(t, api)

	e.Poll(context.Background())
	if api.pollCalls != 1 {
		t.Fatalf("poll calls = %d, want 1", api.pollCalls)
	}
}

func TestAdaptivePollingInterval(t *testing.T) {
	e := NewEngine(&fakeAPI{}, "pk_test", Intervals{})

	if got := e.Interval(); got != DefaultIntervals.Closed {
		t.Fatalf("closed interval = %v, want %v", got, DefaultIntervals.Closed)
	}
	e.SetOpen(true)
	if got := e.Interval(); got != DefaultIntervals.Open {
		t.Fatalf("open interval = %v, want %v", got, DefaultIntervals.Open)
	}
}

func TestPollBeforeInitIsNoOp(t *testing.T) {
	api := &fakeAPI{
		messagesFn: func(ctx context.Context, conversationID string, since time.Time) (*PollResult, error) {
			return &PollResult{}, nil
		},
	}
	e := NewEngine(api, "pk_test", DefaultIntervals)

	e.Poll(context.Background())
	if api.pollCalls != 0 {
		t.Fatalf("poll calls = %d, want 0 before init", api.pollCalls)
	}
}
