package aigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete runs one chat completion and returns the trimmed message text.
func (c *Client) complete(ctx context.Context, gen generation, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: gen.system},
			{Role: "user", Content: prompt},
		},
		Temperature: gen.temperature,
		MaxTokens:   gen.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	var text string
	err = c.do(ctx, providerChat, gen.operation,
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ChatBaseURL+"/chat/completions", bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.cfg.ChatAPIKey)
			return req, nil
		},
		func(resp *http.Response) error {
			var out chatResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("%w: decode chat response: %v", ErrMalformedOutput, err)
			}
			if len(out.Choices) == 0 {
				return fmt.Errorf("%w: chat response has no choices", ErrMalformedOutput)
			}
			text = strings.TrimSpace(out.Choices[0].Message.Content)
			return nil
		},
	)
	if err != nil {
		return "", err
	}
	return text, nil
}

// NoteDraft is the structured note produced by the model. PatientName is
// empty when the model omitted it.
type NoteDraft struct {
	PatientName string
	Note        json.RawMessage
}

// GenerateNote asks the model for a structured clinical note. The model's
// reply must be a JSON object with a "note" object; anything else is
// ErrMalformedOutput.
func (c *Client) GenerateNote(ctx context.Context, transcription, language, patientName string) (*NoteDraft, error) {
	raw, err := c.complete(ctx, noteGeneration, notePrompt(transcription, language, patientName))
	if err != nil {
		return nil, err
	}

	draft, err := parseNoteDraft(raw)
	if err != nil {
		c.logger.Error().Err(err).Str("raw", truncate(raw, 512)).Msg("could not parse generated note")
		return nil, err
	}
	return draft, nil
}

func parseNoteDraft(raw string) (*NoteDraft, error) {
	var reply struct {
		PatientName *string         `json:"patient_name"`
		Note        json.RawMessage `json:"note"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &reply); err != nil {
		return nil, fmt.Errorf("%w: note is not valid JSON: %v", ErrMalformedOutput, err)
	}
	if note := bytes.TrimSpace(reply.Note); len(note) == 0 || note[0] != '{' {
		return nil, fmt.Errorf("%w: note object missing", ErrMalformedOutput)
	}
	// jsonb and text columns reject NUL
	if bytes.Contains(reply.Note, []byte(`\u0000`)) ||
		(reply.PatientName != nil && strings.ContainsRune(*reply.PatientName, 0)) {
		return nil, fmt.Errorf("%w: output contains NUL characters", ErrMalformedOutput)
	}

	draft := &NoteDraft{Note: reply.Note}
	if reply.PatientName != nil {
		draft.PatientName = strings.TrimSpace(*reply.PatientName)
	}
	return draft, nil
}

func (c *Client) GeneratePrescription(ctx context.Context, diagnosis, language string) (string, error) {
	return c.completeText(ctx, prescriptionGeneration, prescriptionPrompt(diagnosis, language))
}

func (c *Client) Answer(ctx context.Context, question, language string) (string, error) {
	return c.completeText(ctx, answerGeneration, answerPrompt(question, language))
}

func (c *Client) DischargeSummary(ctx context.Context, diagnosis, treatment, followUp, language string) (string, error) {
	return c.completeText(ctx, dischargeGeneration, dischargePrompt(diagnosis, treatment, followUp, language))
}

func (c *Client) ReferralLetter(ctx context.Context, symptoms, specialistType, reason, language string) (string, error) {
	return c.completeText(ctx, referralGeneration, referralPrompt(symptoms, specialistType, reason, language))
}

// completeText is complete for free-text outputs, where an empty reply is malformed.
func (c *Client) completeText(ctx context.Context, gen generation, prompt string) (string, error) {
	text, err := c.complete(ctx, gen, prompt)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty %s", ErrMalformedOutput, gen.operation)
	}
	return text, nil
}

// stripCodeFences removes a surrounding Markdown code fence (``` or ```json)
// that models often wrap JSON in.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
