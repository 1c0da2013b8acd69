package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseWhatsAppWebhook(t *testing.T) {
	body := []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [
						{"from": "15550001111", "id": "wamid.text", "timestamp": "1700000000", "type": "text", "text": {"body": "hello"}},
						{"from": "15550002222", "id": "wamid.image", "timestamp": "1700000001", "type": "image"}
					]
				}
			}]
		}]
	}`)

	msgs, err := ParseWhatsAppWebhook(body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1 (non-text skipped)", len(msgs))
	}
	got := msgs[0]
	if got.ExternalUserID != "15550001111" || got.Text != "hello" || got.ProviderMessageID != "wamid.text" {
		t.Fatalf("message = %+v", got)
	}
	if got.TimestampUnix != 1700000000 {
		t.Fatalf("timestamp = %d", got.TimestampUnix)
	}
}

func TestParseWhatsAppWebhookStatusOnly(t *testing.T) {
	msgs, err := ParseWhatsAppWebhook([]byte(`{"entry":[{"changes":[{"value":{}}]}]}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages = %d, want 0", len(msgs))
	}
}

func TestParseWhatsAppWebhookMalformed(t *testing.T) {
	if _, err := ParseWhatsAppWebhook([]byte(`{not json`)); err == nil {
		t.Fatal("malformed body parsed without error")
	}
}

func TestWhatsAppSenderPostsCloudAPI(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload waTextPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		json.NewEncoder(w).Encode(waSendResponse{Messages: []struct {
			ID string `json:"id"`
		}{{ID: "wamid.sent"}}})
	}))
	defer server.Close()

	sender := NewWhatsAppSender(server.URL, "token-123", "phone-1")
	id, err := sender.Send(context.Background(), "t1", "15550001111", "your order shipped")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if id != "wamid.sent" {
		t.Fatalf("provider id = %q", id)
	}
	if gotPath != "/phone-1/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer token-123" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotPayload.To != "15550001111" || gotPayload.Text.Body != "your order shipped" || gotPayload.Type != "text" {
		t.Fatalf("payload = %+v", gotPayload)
	}
}

func TestWhatsAppSenderErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	sender := NewWhatsAppSender(server.URL, "token-123", "phone-1")
	if _, err := sender.Send(context.Background(), "t1", "15550001111", "x"); err == nil {
		t.Fatal("error status returned nil error")
	}
}
