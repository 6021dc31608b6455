package stt

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/callbridge/pkg/logging"
)

func testLogger() *logging.Logger { return logging.New(false) }

// TestTranscribeBatchSuccess checks the happy path: a 200 response with
// text maps to a Transcribed outcome carrying is_final=true and the
// mean segment confidence.
func TestTranscribeBatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/form-data", mediaType)

		mr := multipart.NewReader(r.Body, params["boundary"])
		part, err := mr.NextPart()
		require.NoError(t, err)
		body, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.Equal(t, "RIFF", string(body[0:4]))

		assert.Equal(t, "fr", r.URL.Query().Get("language"))

		resp := batchResponse{
			Text:     "vérifiez le disjoncteur",
			Language: "fr",
			Duration: 2.0,
			Segments: []struct {
				Confidence float64 `json:"confidence"`
			}{{Confidence: 0.9}, {Confidence: 0.8}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewHTTPBatchClient(srv.URL, time.Second, nil, testLogger())
	outcome := client.TranscribeBatch(context.Background(), make([]byte, 320), "fr", 0, 2*time.Second)

	require.Equal(t, Transcribed, outcome.Kind)
	assert.Equal(t, "vérifiez le disjoncteur", outcome.Result.Text)
	assert.Equal(t, "fr", outcome.Result.Language)
	require.NotNil(t, outcome.Result.Confidence)
	assert.InDelta(t, 0.85, *outcome.Result.Confidence, 1e-9)
	assert.True(t, outcome.Result.IsFinal)
}

// TestTranscribeBatchFiltersHallucination checks a provider response
// failing the hallucination filter yields a Filtered outcome, not
// Transcribed.
func TestTranscribeBatchFiltersHallucination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(batchResponse{Text: "• • • • • • • •"})
	}))
	defer srv.Close()

	client := NewHTTPBatchClient(srv.URL, time.Second, nil, testLogger())
	outcome := client.TranscribeBatch(context.Background(), make([]byte, 320), "fr", 0, time.Second)

	assert.Equal(t, Filtered, outcome.Kind)
	assert.Equal(t, "bullet_fill", outcome.FilterReason)
}

// TestTranscribeBatchServerErrorIsTransient checks a 5xx response maps to
// a Transient outcome, per the error taxonomy.
func TestTranscribeBatchServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPBatchClient(srv.URL, time.Second, nil, testLogger())
	outcome := client.TranscribeBatch(context.Background(), make([]byte, 320), "fr", 0, time.Second)

	assert.Equal(t, Transient, outcome.Kind)
	assert.Error(t, outcome.Err)
}

// TestTranscribeBatchNoPromptField checks the request never carries an
// initial_prompt/hint field, which is known to provoke echoed-prompt
// hallucinations from the provider.
func TestTranscribeBatchNoPromptField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("initial_prompt"))
		assert.Empty(t, r.URL.Query().Get("prompt"))
		json.NewEncoder(w).Encode(batchResponse{Text: "check the wiring harness"})
	}))
	defer srv.Close()

	client := NewHTTPBatchClient(srv.URL, time.Second, nil, testLogger())
	outcome := client.TranscribeBatch(context.Background(), make([]byte, 320), "fr", 0, time.Second)
	require.Equal(t, Transcribed, outcome.Kind)
}
