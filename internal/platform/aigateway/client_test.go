package aigateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveUpstream(provider, operation, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, provider+"/"+operation+"/"+outcome)
}

func newTestClient(t *testing.T, chatURL, deepgramURL string, retries int, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBackoff(time.Millisecond)}, opts...)
	c, err := NewClient(Config{
		ChatAPIKey:     "gsk_test",
		ChatBaseURL:    chatURL,
		DeepgramAPIKey: "dg_test",
		DeepgramURL:    deepgramURL,
		Timeout:        2 * time.Second,
		MaxRetries:     retries,
	}, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return c
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestNewClient_RequiresKeys(t *testing.T) {
	_, err := NewClient(Config{DeepgramAPIKey: "dg"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewClient(Config{ChatAPIKey: "gsk"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestGenerateNote_SendsPromptAndParses(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, chatReply("```json\n{\"patient_name\":\"Ravi\",\"note\":{\"chief_complaint\":\"fever\"}}\n```"))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c := newTestClient(t, srv.URL, "", 0, WithObserver(obs))

	draft, err := c.GenerateNote(context.Background(), "fever for 3 days", "hi", "Ravi")
	require.NoError(t, err)
	assert.Equal(t, "Ravi", draft.PatientName)
	assert.JSONEq(t, `{"chief_complaint":"fever"}`, string(draft.Note))

	assert.Equal(t, DefaultModel, got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	assert.Equal(t, 700, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "fever for 3 days")
	assert.Contains(t, got.Messages[1].Content, "Respond only in hi")

	assert.Equal(t, []string{"groq/note/ok"}, obs.outcomes)
}

func TestGenerateNote_MissingPatientName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, chatReply(`{"note":{"assessment":"viral"}}`))
	}))
	defer srv.Close()

	draft, err := newTestClient(t, srv.URL, "", 0).GenerateNote(context.Background(), "x", "en", "Patient")
	require.NoError(t, err)
	assert.Empty(t, draft.PatientName)
}

func TestGenerateNote_Malformed(t *testing.T) {
	for name, content := range map[string]string{
		"not json":        "Sure! Here is the note: fever",
		"note not object": `{"patient_name":"A","note":"fever"}`,
		"note missing":    `{"patient_name":"A"}`,
		"NUL in note":     `{"patient_name":"A","note":{"chief_complaint":"fever\u0000"}}`,
		"NUL in name":     `{"patient_name":"A\u0000","note":{"chief_complaint":"fever"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, chatReply(content))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, "", 0).GenerateNote(context.Background(), "x", "en", "A")
			assert.ErrorIs(t, err, ErrMalformedOutput)
		})
	}
}

func TestComplete_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if n == 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, chatReply("Take rest."))
	}))
	defer srv.Close()

	answer, err := newTestClient(t, srv.URL, "", 2).Answer(context.Background(), "what is fever?", "en")
	require.NoError(t, err)
	assert.Equal(t, "Take rest.", answer)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestComplete_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	_, err := newTestClient(t, srv.URL, "", 2, WithObserver(obs)).GeneratePrescription(context.Background(), "flu", "en")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"groq/prescription/error"}, obs.outcomes)
}

func TestComplete_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, "", 3).DischargeSummary(context.Background(), "flu", "rest", "3 days", "en")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestComplete_UnreachableProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url, "", 1).ReferralLetter(context.Background(), "cough", "pulmonologist", "persistent", "en")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestComplete_EmptyReplies(t *testing.T) {
	for name, body := range map[string]string{
		"no choices": `{"choices":[]}`,
		"blank text": chatReply("   "),
		"not json":   "<html>bad gateway</html>",
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, "", 0).Answer(context.Background(), "q", "en")
			assert.ErrorIs(t, err, ErrMalformedOutput)
		})
	}
}

func TestComplete_RespectsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(t, srv.URL, "", 5).Answer(ctx, "q", "en")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrescriptionPrompt_IncludesGuidelines(t *testing.T) {
	p := prescriptionPrompt("viral fever", "hi")
	assert.Contains(t, p, "viral fever")
	assert.Contains(t, p, "Paracetamol 500mg")
	assert.Contains(t, p, "Visit doctor in 3 days")
	assert.Contains(t, p, "in hi")
}

func TestStripCodeFences(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                   `{"a":1}`,
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"```\n{\"a\":1}\n```":       `{"a":1}`,
		"  ```json\n{\"a\":1}```  ": `{"a":1}`,
		"```":                       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripCodeFences(in), "input %q", in)
	}
}
