package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// WhatsAppSender delivers messages through the WhatsApp Cloud Business API.
type WhatsAppSender struct {
	baseURL     string
	accessToken string
	phoneID     string
	client      *http.Client
}

// NewWhatsAppSender creates a Cloud API sender.
func NewWhatsAppSender(baseURL, accessToken, phoneID string) *WhatsAppSender {
	return &WhatsAppSender{
		baseURL:     baseURL,
		accessToken: accessToken,
		phoneID:     phoneID,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

type waTextPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send implements Sender against POST /{phone_id}/messages.
func (s *WhatsAppSender) Send(ctx context.Context, tenantID, to, text string) (string, error) {
	payload := waTextPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
	}
	payload.Text.Body = text

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whatsapp send failed: status %d: %s", resp.StatusCode, snippet)
	}

	var parsed waSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("whatsapp send: decode response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return "", fmt.Errorf("whatsapp send: no message id in response")
	}
	return parsed.Messages[0].ID, nil
}

// waWebhookEnvelope mirrors the Cloud API webhook structure down to the
// fields this platform consumes.
type waWebhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWhatsAppWebhook normalizes a Cloud API webhook body into inbound
// messages. Non-text message types are skipped; status-only deliveries
// yield an empty slice.
func ParseWhatsAppWebhook(rawBody []byte) ([]InboundMessage, error) {
	var envelope waWebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, fmt.Errorf("whatsapp webhook: %w", err)
	}

	var out []InboundMessage
	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" {
					continue
				}
				ts, _ := strconv.ParseInt(msg.Timestamp, 10, 64)
				out = append(out, InboundMessage{
					ExternalUserID:    msg.From,
					Text:              msg.Text.Body,
					ProviderMessageID: msg.ID,
					TimestampUnix:     ts,
				})
			}
		}
	}
	return out, nil
}
