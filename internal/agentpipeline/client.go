// Package agentpipeline is the thin outbound client for the external
// collaborator that does context analysis over final transcripts. Its
// entire surface is submit(session, speaker,
// text, language); the core never awaits a reply on its hot path.
package agentpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaywire/callbridge/pkg/logging"
)

// Submitter is the contract the fan-out component depends on.
type Submitter interface {
	Submit(ctx context.Context, sessionID, speakerRole, text, language string)
}

type submitRequest struct {
	SessionID   string `json:"session_id"`
	SpeakerRole string `json:"speaker_role"`
	Text        string `json:"text"`
	Language    string `json:"language"`
}

// Client posts final transcripts to the configured submit endpoint. A
// zero-value baseURL disables submission: Submit becomes a no-op, which
// keeps the bridge usable in environments without the downstream
// collaborator configured.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// New builds a Client. baseURL may be empty to disable submission.
func New(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Submit fires the request in the background and logs any failure; it
// never blocks the caller and never retries.
func (c *Client) Submit(ctx context.Context, sessionID, speakerRole, text, language string) {
	if c.baseURL == "" {
		return
	}
	go c.submitSync(ctx, sessionID, speakerRole, text, language)
}

func (c *Client) submitSync(ctx context.Context, sessionID, speakerRole, text, language string) {
	body, err := json.Marshal(submitRequest{
		SessionID:   sessionID,
		SpeakerRole: speakerRole,
		Text:        text,
		Language:    language,
	})
	if err != nil {
		c.logger.With("session_id", sessionID).Errorw("agentpipeline: encode submit request", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit", bytes.NewReader(body))
	if err != nil {
		c.logger.With("session_id", sessionID).Errorw("agentpipeline: build submit request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.With("session_id", sessionID).Warnw("agentpipeline: submit failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.logger.With("session_id", sessionID).Warnw("agentpipeline: submit rejected", "status", resp.StatusCode)
	}
}

var _ Submitter = (*Client)(nil)
