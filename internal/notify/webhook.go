package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// WebhookMessenger posts messages to a chat gateway that relays them as
// direct messages.
type WebhookMessenger struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewWebhookMessenger(endpoint, token string, client *http.Client) *WebhookMessenger {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookMessenger{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   client,
	}
}

type webhookAttachment struct {
	Name   string `json:"name"`
	Data   string `json:"data"`
	Digest string `json:"digest,omitempty"`
}

type webhookPayload struct {
	Recipient  string             `json:"recipient"`
	Title      string             `json:"title"`
	Body       string             `json:"body,omitempty"`
	Fields     []Field            `json:"fields,omitempty"`
	Actions    []Action           `json:"actions,omitempty"`
	Footer     string             `json:"footer,omitempty"`
	Attachment *webhookAttachment `json:"attachment,omitempty"`
}

func (m *WebhookMessenger) Send(ctx context.Context, recipientID string, msg Message) error {
	payload := webhookPayload{
		Recipient: recipientID,
		Title:     msg.Title,
		Body:      msg.Body,
		Fields:    msg.Fields,
		Actions:   msg.Actions,
		Footer:    msg.Footer,
	}
	if msg.Attachment != nil {
		payload.Attachment = &webhookAttachment{
			Name:   msg.Attachment.Name,
			Data:   base64.StdEncoding.EncodeToString(msg.Attachment.Data),
			Digest: msg.Attachment.Digest,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}
