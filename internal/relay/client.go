// Package relay is the outbound half of the transport boundary: it posts
// replies, moderation cards, card edits, and publications to the chat
// bridge as JSON. The bridge owns message formatting and delivery; nothing
// here holds a store lock or runs inside a transaction.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	baseURL         string
	token           string
	moderationRoom  string
	publicationRoom string
	http            *http.Client
}

func New(baseURL, token, moderationRoom, publicationRoom string) *Client {
	return &Client{
		baseURL:         baseURL,
		token:           token,
		moderationRoom:  moderationRoom,
		publicationRoom: publicationRoom,
		http:            &http.Client{Timeout: 10 * time.Second},
	}
}

// SendReply delivers a plain text reply to a single user.
func (c *Client) SendReply(ctx context.Context, userID, text string) error {
	return c.post(ctx, "/reply", map[string]any{
		"userId": userID,
		"text":   text,
	}, nil)
}

// PostModerationCard posts a reviewable card to the moderation room with
// Approve and Reject actions, each bound to the correlation token. It
// returns the bridge's reference to the posted card so its status can be
// edited later.
func (c *Client) PostModerationCard(ctx context.Context, body, token string) (string, error) {
	var result struct {
		Ref string `json:"ref"`
	}
	err := c.post(ctx, "/moderation", map[string]any{
		"room": c.moderationRoom,
		"body": body,
		"actions": []map[string]string{
			{"label": "Approve", "action": "approve", "token": token},
			{"label": "Reject", "action": "reject", "token": token},
		},
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Ref, nil
}

// UpdateModerationCard rewrites a previously posted card to show its
// resolved status and drops the action buttons.
func (c *Client) UpdateModerationCard(ctx context.Context, ref, status string) error {
	return c.post(ctx, "/moderation/update", map[string]any{
		"ref":    ref,
		"status": status,
	}, nil)
}

// Publish posts an approved confession to the public room.
func (c *Client) Publish(ctx context.Context, number int64, body string) error {
	return c.post(ctx, "/publish", map[string]any{
		"room":   c.publicationRoom,
		"number": number,
		"text":   fmt.Sprintf("Confession #%d: %s", number, body),
	}, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal bridge payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: bridge returned %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode bridge response: %w", err)
		}
	}
	return nil
}
