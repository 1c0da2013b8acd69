package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/convohub/messaging-platform/internal/channel"
	"github.com/convohub/messaging-platform/internal/handler"
	"github.com/convohub/messaging-platform/internal/incident"
	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/internal/service"
	"github.com/convohub/messaging-platform/internal/store"
	"github.com/convohub/messaging-platform/pkg/logger"
)

type widgetFixture struct {
	store  *store.Store
	router *chi.Mux
	bot    *model.Bot
}

func newWidgetFixture(t *testing.T) *widgetFixture {
	t.Helper()
	st := newTestStore(t)
	log := logger.Nop()
	corr := incident.New(st, nil, log, 10*time.Minute, 100)
	senders := channel.NewRegistry()
	senders.Register(model.ChannelWidget, channel.WidgetSender{})
	convs := service.NewConversationService(st, senders, log)
	inbound := service.NewInboundService(convs, nil, nil, senders, corr, log)

	bot := &model.Bot{TenantID: "t1", Name: "support", PublicKey: "pk_widget_test", WelcomeMessage: "Hi! How can we help?", Active: true}
	if err := st.CreateBot(context.Background(), bot); err != nil {
		t.Fatalf("create bot failed: %v", err)
	}

	h := handler.NewWidgetHandler(inbound, convs, st, log)
	r := chi.NewRouter()
	r.Route("/widget/v1", func(r chi.Router) {
		r.Post("/init", h.Init)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Post("/messages", h.Send)
			r.Get("/messages", h.Messages)
		})
	})
	return &widgetFixture{store: st, router: r, bot: bot}
}

func (f *widgetFixture) init(t *testing.T) handler.InitResponse {
	t.Helper()
	body, _ := json.Marshal(handler.InitRequest{BotKey: f.bot.PublicKey})
	req := httptest.NewRequest(http.MethodPost, "/widget/v1/init", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("init status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp handler.InitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return resp
}

func (f *widgetFixture) send(t *testing.T, botKey, conversationID, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(handler.SendRequest{Content: content})
	req := httptest.NewRequest(http.MethodPost, "/widget/v1/conversations/"+conversationID+"/messages", bytes.NewReader(body))
	req.Header.Set("X-Bot-Key", botKey)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *widgetFixture) poll(t *testing.T, botKey, conversationID, since string) *httptest.ResponseRecorder {
	t.Helper()
	path := "/widget/v1/conversations/" + conversationID + "/messages"
	if since != "" {
		path += "?since=" + since
	}
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Bot-Key", botKey)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestWidgetInitAssignsVisitorAndConversation(t *testing.T) {
	f := newWidgetFixture(t)

	resp := f.init(t)
	if resp.ConversationID == "" || resp.ExternalUserID == "" {
		t.Fatalf("init response = %+v", resp)
	}
	if resp.WelcomeMessage != "Hi! How can we help?" {
		t.Fatalf("welcome = %q", resp.WelcomeMessage)
	}
	if resp.Status != model.StatusWaiting {
		t.Fatalf("status = %q, want waiting", resp.Status)
	}

	// Re-init with the same visitor resumes the same conversation.
	body, _ := json.Marshal(handler.InitRequest{BotKey: f.bot.PublicKey, ExternalUserID: resp.ExternalUserID})
	req := httptest.NewRequest(http.MethodPost, "/widget/v1/init", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var again handler.InitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &again); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if again.ConversationID != resp.ConversationID {
		t.Fatalf("re-init created a new conversation: %q vs %q", again.ConversationID, resp.ConversationID)
	}
}

func TestWidgetInitUnknownKey(t *testing.T) {
	f := newWidgetFixture(t)

	body, _ := json.Marshal(handler.InitRequest{BotKey: "pk_does_not_exist"})
	req := httptest.NewRequest(http.MethodPost, "/widget/v1/init", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWidgetSendAndPoll(t *testing.T) {
	f := newWidgetFixture(t)
	sess := f.init(t)

	rec := f.send(t, f.bot.PublicKey, sess.ConversationID, "hello")
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status = %d: %s", rec.Code, rec.Body.String())
	}
	var sent handler.SendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if sent.MessageID == "" {
		t.Fatal("send response missing message id")
	}
	if sent.Status != model.StatusAIActive {
		t.Fatalf("status after send = %q, want ai_active", sent.Status)
	}

	rec = f.poll(t, f.bot.PublicKey, sess.ConversationID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("poll status = %d", rec.Code)
	}
	var page handler.MessagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != sent.MessageID {
		t.Fatalf("poll messages = %+v", page.Messages)
	}

	// The cursor excludes everything the client already has.
	cursor := page.Messages[0].CreatedAt.Format(time.RFC3339Nano)
	rec = f.poll(t, f.bot.PublicKey, sess.ConversationID, cursor)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Fatalf("cursored poll returned %d messages, want 0", len(page.Messages))
	}
}

func TestWidgetConversationScopedToBotKey(t *testing.T) {
	f := newWidgetFixture(t)
	sess := f.init(t)

	other := &model.Bot{TenantID: "t2", Name: "other", PublicKey: "pk_other", Active: true}
	if err := f.store.CreateBot(context.Background(), other); err != nil {
		t.Fatalf("create bot failed: %v", err)
	}

	if rec := f.send(t, other.PublicKey, sess.ConversationID, "intrusion"); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign key send status = %d, want 404", rec.Code)
	}
	if rec := f.poll(t, other.PublicKey, sess.ConversationID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign key poll status = %d, want 404", rec.Code)
	}
}

func TestWidgetPollHidesSuppressedReplies(t *testing.T) {
	f := newWidgetFixture(t)
	sess := f.init(t)

	conv, err := f.store.GetConversation(context.Background(), sess.ConversationID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	suppressed := &model.Message{ConversationID: conv.ID, TenantID: conv.TenantID, Channel: conv.Channel, Sender: model.SenderBot, Content: "hidden", Suppressed: true}
	if _, _, err := f.store.CreateMessage(context.Background(), suppressed); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	rec := f.poll(t, f.bot.PublicKey, sess.ConversationID, "")
	var page handler.MessagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Fatalf("suppressed reply visible to widget: %+v", page.Messages)
	}
}
