package communication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackPlatform is the real Platform implementation talking to the Slack
// Web API. Grounded on internal/notifications/external/slack.go's
// webhook-notifier shape, generalized from a fire-and-forget webhook post
// to a token-authenticated client capable of listing channels and
// returning message/thread identifiers (required by the communication
// role's resolve-channel and threaded-reply semantics).
type SlackPlatform struct {
	baseURL string
	client  *http.Client
}

// NewSlackPlatform builds a SlackPlatform. baseURL defaults to
// "https://slack.com/api" — overridable for tests.
func NewSlackPlatform(baseURL string) *SlackPlatform {
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &SlackPlatform{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SlackPlatform) post(ctx context.Context, token, method string, body map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal slack request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+method, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	var envelope struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	raw := json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decode slack response: %w", err)
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode slack envelope: %w", err)
	}
	if !envelope.OK {
		return fmt.Errorf("slack API rejected request: %s", envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode slack payload: %w", err)
		}
	}
	return nil
}

// ListChannels returns the names of channels visible to the token, paging
// through conversations.list's cursor until exhausted.
func (s *SlackPlatform) ListChannels(ctx context.Context, token string) ([]string, error) {
	var out struct {
		Channels []struct {
			Name string `json:"name"`
		} `json:"channels"`
		ResponseMetadata struct {
			NextCursor string `json:"next_cursor"`
		} `json:"response_metadata"`
	}
	cursor := ""
	names := []string{}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/conversations.list?limit=200&cursor="+cursor, nil)
		if err != nil {
			return nil, fmt.Errorf("build conversations.list request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("conversations.list: %w", err)
		}
		err = func() error {
			defer resp.Body.Close()
			return json.NewDecoder(resp.Body).Decode(&out)
		}()
		if err != nil {
			return nil, fmt.Errorf("decode conversations.list: %w", err)
		}
		for _, c := range out.Channels {
			names = append(names, c.Name)
		}
		if out.ResponseMetadata.NextCursor == "" {
			break
		}
		cursor = out.ResponseMetadata.NextCursor
	}
	return names, nil
}

// Send posts a message to channel via chat.postMessage, optionally
// carrying rich attachment blocks, and returns Slack's message timestamp
// (the identifier Slack itself uses for threading).
func (s *SlackPlatform) Send(ctx context.Context, token, channel, text string, blocks map[string]interface{}) (string, error) {
	body := map[string]interface{}{"channel": channel, "text": text}
	if blocks != nil {
		for k, v := range blocks {
			body[k] = v
		}
	}
	var out struct {
		TS string `json:"ts"`
	}
	if err := s.post(ctx, token, "chat.postMessage", body, &out); err != nil {
		return "", err
	}
	return out.TS, nil
}

// SendThreaded posts text as a threaded reply under threadID (a prior
// message's ts).
func (s *SlackPlatform) SendThreaded(ctx context.Context, token, channel, threadID, text string) error {
	body := map[string]interface{}{"channel": channel, "text": text, "thread_ts": threadID}
	return s.post(ctx, token, "chat.postMessage", body, nil)
}
