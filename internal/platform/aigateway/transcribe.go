package aigateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// AudioOpener returns a fresh reader over the audio for each attempt.
type AudioOpener func(ctx context.Context) (io.ReadCloser, error)

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe streams audio to Deepgram and returns the first alternative's
// transcript. An empty transcript is not an error; callers decide what no
// speech means.
func (c *Client) Transcribe(ctx context.Context, open AudioOpener, contentType, language string) (string, error) {
	endpoint, err := url.Parse(c.cfg.DeepgramURL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := endpoint.Query()
	if language != "" {
		q.Set("language", language)
	}
	endpoint.RawQuery = q.Encode()

	var transcript string
	err = c.do(ctx, providerDeepgram, "transcribe",
		func(ctx context.Context) (*http.Request, error) {
			body, err := open(ctx)
			if err != nil {
				return nil, fmt.Errorf("open audio: %w", err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
			if err != nil {
				body.Close()
				return nil, err
			}
			req.Header.Set("Authorization", "Token "+c.cfg.DeepgramAPIKey)
			req.Header.Set("Content-Type", contentType)
			return req, nil
		},
		func(resp *http.Response) error {
			var out deepgramResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("%w: decode deepgram response: %v", ErrMalformedOutput, err)
			}
			if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
				return fmt.Errorf("%w: deepgram response has no alternatives", ErrMalformedOutput)
			}
			transcript = strings.TrimSpace(out.Results.Channels[0].Alternatives[0].Transcript)
			return nil
		},
	)
	if err != nil {
		return "", err
	}
	if transcript == "" {
		c.logger.Warn().Str("language", language).Msg("deepgram returned empty transcript")
	}
	return transcript, nil
}
