package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/relaywire/callbridge/internal/audio/wav"
	"github.com/relaywire/callbridge/pkg/logging"
)

// batchResponse is the provider's JSON shape for a synchronous transcribe
// call).
type batchResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Confidence float64 `json:"confidence"`
	} `json:"segments,omitempty"`
}

// HTTPBatchClient posts a segment's WAV-wrapped 16kHz PCM to an HTTP STT
// provider. Grounded on the reference Whisper client, with the prompt
// field removed: supplying one causes the provider to echo prompt
// formatting as hallucinated output.
type HTTPBatchClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	phrases    []string
}

// NewHTTPBatchClient builds a batch backend against baseURL with the
// default 30s timeout.
func NewHTTPBatchClient(baseURL string, timeout time.Duration, phrases []string, logger *logging.Logger) *HTTPBatchClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBatchClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		phrases:    phrases,
	}
}

// TranscribeBatch implements BatchBackend.
func (c *HTTPBatchClient) TranscribeBatch(ctx context.Context, pcm16k []byte, language string, startOffset, duration time.Duration) Outcome {
	wavData, err := wrapWAV(pcm16k, 16000)
	if err != nil {
		return Outcome{Kind: Transient, Err: fmt.Errorf("stt: wrap wav: %w", err)}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio_file", "segment.wav")
	if err != nil {
		return Outcome{Kind: Transient, Err: fmt.Errorf("stt: create form file: %w", err)}
	}
	if _, err := part.Write(wavData); err != nil {
		return Outcome{Kind: Transient, Err: fmt.Errorf("stt: write form file: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return Outcome{Kind: Transient, Err: fmt.Errorf("stt: close multipart writer: %w", err)}
	}

	// Deliberately no initial_prompt/hint field.
	requestURL := fmt.Sprintf("%s/asr?encode=true&task=transcribe&language=%s&output=json", c.baseURL, language)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, &body)
	if err != nil {
		return Outcome{Kind: Transient, Err: fmt.Errorf("stt: build request: %w", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Kind: Transient, Err: fmt.Errorf("stt: request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Kind: Transient, Err: fmt.Errorf("stt: read response: %w", err)}
	}
	if resp.StatusCode >= 500 {
		return Outcome{Kind: Transient, Err: fmt.Errorf("stt: provider status %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return Outcome{Kind: Fatal, Err: fmt.Errorf("stt: provider status %d: %s", resp.StatusCode, respBody)}
	}

	var parsed batchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Outcome{Kind: Transient, Err: fmt.Errorf("stt: decode response: %w", err)}
	}

	ok, reason := filterHallucination(parsed.Text, c.phrases)
	if !ok {
		return Outcome{Kind: Filtered, FilterReason: reason}
	}

	var confidence *float64
	if len(parsed.Segments) > 0 {
		var sum float64
		for _, s := range parsed.Segments {
			sum += s.Confidence
		}
		mean := sum / float64(len(parsed.Segments))
		confidence = &mean
	}

	lang := parsed.Language
	if lang == "" {
		lang = language
	}

	return Outcome{
		Kind: Transcribed,
		Result: Result{
			Text:        parsed.Text,
			Language:    lang,
			Confidence:  confidence,
			IsFinal:     true,
			StartOffset: startOffset,
			Duration:    duration,
		},
	}
}

// wrapWAV wraps raw PCM in an in-memory WAV container; the batch backend
// never touches disk, so it builds the header directly rather than going
// through wav.Writer.
func wrapWAV(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	header := make([]byte, 44)
	wav.WriteHeader(header, sampleRate, len(pcm))
	buf.Write(header)
	buf.Write(pcm)
	return buf.Bytes(), nil
}
