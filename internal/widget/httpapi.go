package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/convohub/messaging-platform/internal/model"
)

// HTTPAPI talks to the public widget API over HTTP.
type HTTPAPI struct {
	baseURL string
	botKey  string
	client  *http.Client
}

// NewHTTPAPI creates an HTTP client for the widget API.
func NewHTTPAPI(baseURL, botKey string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: baseURL,
		botKey:  botKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type initRequest struct {
	BotKey         string `json:"bot_key"`
	ExternalUserID string `json:"external_user_id,omitempty"`
}

type initResponse struct {
	ConversationID string                   `json:"conversation_id"`
	ExternalUserID string                   `json:"external_user_id"`
	WelcomeMessage string                   `json:"welcome_message"`
	Status         model.ConversationStatus `json:"status"`
	IsAIPaused     bool                     `json:"is_ai_paused"`
}

type sendRequest struct {
	Content string `json:"content"`
}

type sendResponse struct {
	MessageID  string                   `json:"message_id"`
	CreatedAt  time.Time                `json:"created_at"`
	Reply      *model.Message           `json:"reply"`
	Status     model.ConversationStatus `json:"status"`
	IsAIPaused bool                     `json:"is_ai_paused"`
}

type messagesResponse struct {
	Messages   []model.Message          `json:"messages"`
	Status     model.ConversationStatus `json:"status"`
	IsAIPaused bool                     `json:"is_ai_paused"`
}

// Init implements API.
func (a *HTTPAPI) Init(ctx context.Context, botKey, externalUserID string) (*InitResult, error) {
	var resp initResponse
	err := a.post(ctx, "/widget/v1/init", initRequest{BotKey: botKey, ExternalUserID: externalUserID}, &resp)
	if err != nil {
		return nil, err
	}
	return &InitResult{
		ConversationID: resp.ConversationID,
		ExternalUserID: resp.ExternalUserID,
		WelcomeMessage: resp.WelcomeMessage,
		Status:         resp.Status,
		IsAIPaused:     resp.IsAIPaused,
	}, nil
}

// Send implements API.
func (a *HTTPAPI) Send(ctx context.Context, conversationID, content string) (*SendResult, error) {
	var resp sendResponse
	path := "/widget/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := a.post(ctx, path, sendRequest{Content: content}, &resp); err != nil {
		return nil, err
	}
	return &SendResult{
		MessageID:  resp.MessageID,
		CreatedAt:  resp.CreatedAt,
		Reply:      resp.Reply,
		Status:     resp.Status,
		IsAIPaused: resp.IsAIPaused,
	}, nil
}

// Messages implements API.
func (a *HTTPAPI) Messages(ctx context.Context, conversationID string, since time.Time) (*PollResult, error) {
	path := "/widget/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Bot-Key", a.botKey)

	httpResp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("widget poll: status %d", httpResp.StatusCode)
	}

	var resp messagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, err
	}
	return &PollResult{
		Messages:   resp.Messages,
		Status:     resp.Status,
		IsAIPaused: resp.IsAIPaused,
	}, nil
}

func (a *HTTPAPI) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bot-Key", a.botKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("widget api %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
