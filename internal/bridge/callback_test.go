package bridge_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/convohub/messaging-platform/internal/bridge"
	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/internal/signing"
)

func acceptingServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)
	return server
}

// dispatchRun creates a pending run the way production does, then mints a
// callback token scoped to it.
func dispatchRun(t *testing.T, f *fixture) (*model.AutomationRun, string) {
	t.Helper()
	run, err := f.dispatcher.Dispatch(context.Background(), f.conv, f.bot, f.msg)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	token, err := f.tokens.IssueCallbackToken(f.conv.TenantID, run.ID, time.Minute)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	return run, token
}

func callbackPayload(tenantID, to, text string) *bridge.CallbackPayload {
	p := &bridge.CallbackPayload{TenantID: tenantID, To: to, Text: text}
	return p
}

func visibleMessages(t *testing.T, f *fixture) []model.Message {
	t.Helper()
	msgs, err := f.store.ListMessagesSince(context.Background(), f.conv.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	return msgs
}

func TestCallbackDeliversReplyAndCompletesRun(t *testing.T) {
	f := newFixture(t, acceptingServer(t).URL, nil)
	run, token := dispatchRun(t, f)

	err := f.dispatcher.HandleCallback(context.Background(), token, "t1",
		callbackPayload("t1", "visitor-1", "your order ships tomorrow"))
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	stored, err := f.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run failed: %v", err)
	}
	if stored.Status != model.RunSucceeded {
		t.Fatalf("run status = %q, want succeeded", stored.Status)
	}

	msgs := visibleMessages(t, f)
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want user message plus reply", len(msgs))
	}
	reply := msgs[1]
	if reply.Sender != model.SenderBot || reply.Content != "your order ships tomorrow" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestDuplicateCallbackIsNoOp(t *testing.T) {
	f := newFixture(t, acceptingServer(t).URL, nil)
	_, token := dispatchRun(t, f)
	payload := callbackPayload("t1", "visitor-1", "done")

	if err := f.dispatcher.HandleCallback(context.Background(), token, "t1", payload); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}
	if err := f.dispatcher.HandleCallback(context.Background(), token, "t1", payload); err != nil {
		t.Fatalf("duplicate callback returned error: %v", err)
	}

	if msgs := visibleMessages(t, f); len(msgs) != 2 {
		t.Fatalf("duplicate callback delivered a second reply: %d messages", len(msgs))
	}
}

func TestCallbackSuppressedDuringTakeover(t *testing.T) {
	f := newFixture(t, acceptingServer(t).URL, nil)
	run, token := dispatchRun(t, f)

	// Operator takes over between dispatch and callback.
	if err := f.store.SetConversationState(context.Background(), f.conv.ID, model.StatusHumanTakeover, true, "op@example.com"); err != nil {
		t.Fatalf("takeover failed: %v", err)
	}

	err := f.dispatcher.HandleCallback(context.Background(), token, "t1",
		callbackPayload("t1", "visitor-1", "automated answer"))
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	// The reply exists for audit but never reaches the visible feed.
	msgs := visibleMessages(t, f)
	if len(msgs) != 1 || msgs[0].Sender != model.SenderUser {
		t.Fatalf("suppressed reply leaked: %+v", msgs)
	}

	stored, err := f.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run failed: %v", err)
	}
	if stored.Status != model.RunSucceeded {
		t.Fatalf("run status = %q, want succeeded", stored.Status)
	}
	if n := eventCount(t, f.store, model.EventReplySuppressed, "t1"); n != 1 {
		t.Fatalf("REPLY_SUPPRESSED events = %d, want 1", n)
	}
}

func TestCallbackRejectsInvalidToken(t *testing.T) {
	f := newFixture(t, acceptingServer(t).URL, nil)
	dispatchRun(t, f)

	err := f.dispatcher.HandleCallback(context.Background(), "bogus", "t1",
		callbackPayload("t1", "visitor-1", "x"))
	if !errors.Is(err, signing.ErrInvalidToken) {
		t.Fatalf("error = %v, want ErrInvalidToken", err)
	}
	if n := eventCount(t, f.store, model.EventCallbackTokenInvalid, ""); n != 1 {
		t.Fatalf("CALLBACK_TOKEN_INVALID events = %d, want 1", n)
	}
}

func TestCallbackRejectsTenantMismatch(t *testing.T) {
	f := newFixture(t, acceptingServer(t).URL, nil)
	run, token := dispatchRun(t, f)

	// Transport header disagrees with the token.
	err := f.dispatcher.HandleCallback(context.Background(), token, "t2",
		callbackPayload("t1", "visitor-1", "x"))
	if !errors.Is(err, bridge.ErrTenantMismatch) {
		t.Fatalf("header mismatch error = %v, want ErrTenantMismatch", err)
	}

	// Payload tenant disagrees with the token.
	err = f.dispatcher.HandleCallback(context.Background(), token, "t1",
		callbackPayload("t2", "visitor-1", "x"))
	if !errors.Is(err, bridge.ErrTenantMismatch) {
		t.Fatalf("payload mismatch error = %v, want ErrTenantMismatch", err)
	}

	stored, err := f.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run failed: %v", err)
	}
	if stored.Status != model.RunPending {
		t.Fatalf("rejected callback changed run status to %q", stored.Status)
	}
	if len(visibleMessages(t, f)) != 1 {
		t.Fatal("rejected callback delivered a reply")
	}
}

func TestCallbackUnknownRun(t *testing.T) {
	f := newFixture(t, acceptingServer(t).URL, nil)

	token, err := f.tokens.IssueCallbackToken("t1", "no-such-run", time.Minute)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	if err := f.dispatcher.HandleCallback(context.Background(), token, "t1",
		callbackPayload("t1", "visitor-1", "x")); !errors.Is(err, bridge.ErrUnknownRun) {
		t.Fatalf("error = %v, want ErrUnknownRun", err)
	}
	if n := eventCount(t, f.store, model.EventUnknownRun, "t1"); n != 1 {
		t.Fatalf("UNKNOWN_RUN events = %d, want 1", n)
	}
}

func TestLateCallbackAppliesReplyWithoutReopeningRun(t *testing.T) {
	f := newFixture(t, acceptingServer(t).URL, nil)
	run, token := dispatchRun(t, f)

	// The sweep gave up on the run before the engine answered.
	if err := f.store.CompleteRun(context.Background(), run.ID, model.RunTimedOut, "swept"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	err := f.dispatcher.HandleCallback(context.Background(), token, "t1",
		callbackPayload("t1", "visitor-1", "slow but correct answer"))
	if err != nil {
		t.Fatalf("late callback failed: %v", err)
	}

	stored, err := f.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run failed: %v", err)
	}
	if stored.Status != model.RunTimedOut {
		t.Fatalf("late callback changed run status to %q", stored.Status)
	}

	msgs := visibleMessages(t, f)
	if len(msgs) != 2 || msgs[1].Content != "slow but correct answer" {
		t.Fatalf("late reply not applied: %+v", msgs)
	}
	if n := eventCount(t, f.store, model.EventLateCallback, "t1"); n != 1 {
		t.Fatalf("LATE_CALLBACK events = %d, want 1", n)
	}
}

type failingSender struct{}

func (failingSender) Send(ctx context.Context, tenantID, to, text string) (string, error) {
	return "", errors.New("provider unavailable")
}

func TestCallbackDeliveryFailureFailsRun(t *testing.T) {
	f := newFixture(t, acceptingServer(t).URL, failingSender{})
	run, token := dispatchRun(t, f)

	err := f.dispatcher.HandleCallback(context.Background(), token, "t1",
		callbackPayload("t1", "visitor-1", "undeliverable"))
	if err == nil {
		t.Fatal("delivery failure returned nil error")
	}

	stored, err := f.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run failed: %v", err)
	}
	if stored.Status != model.RunFailed {
		t.Fatalf("run status = %q, want failed", stored.Status)
	}
	if n := eventCount(t, f.store, model.EventDeliveryFailed, "t1"); n != 1 {
		t.Fatalf("DELIVERY_FAILED events = %d, want 1", n)
	}
	if len(visibleMessages(t, f)) != 1 {
		t.Fatal("failed delivery persisted a reply")
	}
}
