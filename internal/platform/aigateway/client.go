// Package aigateway talks to the external AI providers: an OpenAI-compatible
// chat-completions API for text generation and Deepgram for speech-to-text.
// All provider timeouts and retries live here; callers treat a returned error
// as final.
package aigateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

var (
	// ErrUpstream means a provider could not be reached or answered with an error.
	ErrUpstream = errors.New("ai provider request failed")
	// ErrMalformedOutput means a provider answered but not in the expected shape.
	ErrMalformedOutput = errors.New("ai provider returned malformed output")
)

const (
	providerChat     = "groq"
	providerDeepgram = "deepgram"

	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama3-70b-8192"
	DefaultDeepgramURL = "https://api.deepgram.com/v1/listen"
)

// Observer receives one observation per provider call, retries included.
type Observer interface {
	ObserveUpstream(provider, operation, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveUpstream(string, string, string, time.Duration) {}

// Config carries provider endpoints and credentials.
type Config struct {
	ChatAPIKey     string
	ChatBaseURL    string
	Model          string
	DeepgramAPIKey string
	DeepgramURL    string
	Timeout        time.Duration
	MaxRetries     int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithObserver reports call outcomes and latency, typically to metrics.
func WithObserver(o Observer) Option {
	return func(cl *Client) { cl.obs = o }
}

// WithBackoff sets the base delay of the exponential retry backoff.
func WithBackoff(base time.Duration) Option {
	return func(cl *Client) { cl.backoffBase = base }
}

// Client is safe for concurrent use.
type Client struct {
	http        *http.Client
	cfg         Config
	backoffBase time.Duration
	obs         Observer
	logger      zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if cfg.ChatAPIKey == "" {
		return nil, errors.New("chat provider api key is required")
	}
	if cfg.DeepgramAPIKey == "" {
		return nil, errors.New("deepgram api key is required")
	}
	if cfg.ChatBaseURL == "" {
		cfg.ChatBaseURL = DefaultBaseURL
	}
	cfg.ChatBaseURL = strings.TrimRight(cfg.ChatBaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.DeepgramURL == "" {
		cfg.DeepgramURL = DefaultDeepgramURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	c := &Client{
		http:        &http.Client{Timeout: cfg.Timeout},
		cfg:         cfg,
		backoffBase: 500 * time.Millisecond,
		obs:         nopObserver{},
		logger:      logger.With().Str("component", "aigateway").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// do sends the request built by build, retrying transient failures, and hands
// a 2xx response to handle. build is called once per attempt so request
// bodies can be re-created.
func (c *Client) do(ctx context.Context, provider, operation string,
	build func(ctx context.Context) (*http.Request, error),
	handle func(resp *http.Response) error,
) error {
	start := time.Now()
	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxRetries),
		retry.WithJitterPercent(10, retry.NewExponential(c.backoffBase)))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		req, err := build(ctx)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Str("provider", provider).Str("operation", operation).
				Int("attempt", attempt).Msg("provider request failed")
			return retry.RetryableError(fmt.Errorf("%w: %s: %w", ErrUpstream, provider, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			c.logger.Warn().Str("provider", provider).Str("operation", operation).
				Int("attempt", attempt).Int("status", resp.StatusCode).
				Str("body", string(snippet)).Msg("provider returned error status")

			statusErr := fmt.Errorf("%w: %s returned status %d", ErrUpstream, provider, resp.StatusCode)
			if retryableStatus(resp.StatusCode) {
				return retry.RetryableError(statusErr)
			}
			return statusErr
		}

		return handle(resp)
	})

	c.obs.ObserveUpstream(provider, operation, outcome(err), time.Since(start))
	if err != nil && !errors.Is(err, ErrUpstream) && !errors.Is(err, ErrMalformedOutput) {
		// context cancellation and request construction failures
		err = fmt.Errorf("%w: %s: %w", ErrUpstream, provider, err)
	}
	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedOutput):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
