// Package upstream fetches new scores from the osu! API v2.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/okian/scorews/internal/domain/model"
	"github.com/okian/scorews/pkg/logger"
	"github.com/okian/scorews/pkg/metrics"
)

// API constants.
const (
	defaultBaseURL   = "https://osu.ppy.sh"
	defaultTimeout   = 10 * time.Second
	apiVersion       = "20220705"
	tokenPath        = "/oauth/token"
	scoresPath       = "/api/v2/scores"
	tokenScope       = "public"
	maxErrorBody     = 512
	maxResponseBytes = 4 << 20
)

// Record is one upstream score with the fields the ledger needs.
type Record struct {
	ID      uint64
	Ruleset model.Ruleset
	Payload json.RawMessage
}

// Source produces batches of new score records.
type Source interface {
	// Fetch returns the records published since the previous call.
	Fetch(ctx context.Context) ([]Record, error)
}

// Client is a Source backed by the osu! API. It authenticates with the
// client credentials grant and follows the API's cursor_string.
type Client struct {
	baseURL string
	creds   clientcredentials.Config
	http    *http.Client
	logger  logger.Logger

	mu     sync.Mutex
	token  *oauth2.Token
	cursor string
}

// NewClient creates a client for the given OAuth credentials.
func NewClient(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.baseURL = strings.TrimRight(c.baseURL, "/")
	c.creds = clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     c.baseURL + tokenPath,
		Scopes:       []string{tokenScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("upstream")
	}

	return c
}

type scoresResponse struct {
	Scores       []json.RawMessage `json:"scores"`
	CursorString string            `json:"cursor_string"`
}

type scoreHeader struct {
	ID        *uint64 `json:"id"`
	RulesetID *int    `json:"ruleset_id"`
}

// Fetch returns the scores published since the last successful call.
// Calls are serialized.
func (c *Client) Fetch(ctx context.Context) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, status, err := c.getScores(ctx)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// The cached token may have been revoked; retry once with a new one.
		c.token = nil
		body, status, err = c.getScores(ctx)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			c.token = nil
			return nil, fmt.Errorf("%w: scores returned %d", ErrUnauthorized, status)
		}
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: scores returned %d: %s", ErrFetch, status, truncate(body))
	}

	var resp scoresResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode scores: %v", ErrFetch, err)
	}
	if resp.Scores == nil {
		return nil, fmt.Errorf("%w: response has no scores field", ErrFetch)
	}

	records := make([]Record, 0, len(resp.Scores))
	for _, raw := range resp.Scores {
		rec, err := parseRecord(raw)
		if err != nil {
			c.logger.Warn(ctx, "skipping malformed score", logger.Error(err))
			continue
		}
		records = append(records, rec)
	}

	if resp.CursorString != "" {
		c.cursor = resp.CursorString
	}

	return records, nil
}

func parseRecord(raw json.RawMessage) (Record, error) {
	var h scoreHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return Record{}, fmt.Errorf("decode score: %w", err)
	}
	if h.ID == nil {
		return Record{}, fmt.Errorf("score without id")
	}
	if h.RulesetID == nil {
		return Record{}, fmt.Errorf("score %d without ruleset_id", *h.ID)
	}
	rs, err := model.RulesetFromID(*h.RulesetID)
	if err != nil {
		return Record{}, fmt.Errorf("score %d: %w", *h.ID, err)
	}
	return Record{ID: *h.ID, Ruleset: rs, Payload: raw}, nil
}

func (c *Client) getScores(ctx context.Context) ([]byte, int, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	u := c.baseURL + scoresPath
	if c.cursor != "" {
		u += "?" + url.Values{"cursor_string": {c.cursor}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: create request: %v", ErrFetch, err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-version", apiVersion)

	return c.do(req)
}

// accessToken returns the cached token or requests a new one. Tokens are
// treated as expired shortly before their stated lifetime ends.
func (c *Client) accessToken(ctx context.Context) (*oauth2.Token, error) {
	if c.token.Valid() {
		return c.token, nil
	}

	tok, err := c.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		return nil, tokenError(err)
	}

	c.token = tok
	metrics.RecordUpstreamTokenRefresh()
	c.logger.Debug(ctx, "refreshed upstream token", logger.Any("expiry", tok.Expiry))

	return c.token, nil
}

// tokenError maps a token endpoint failure onto ErrUnauthorized when the
// credentials were refused and ErrFetch otherwise.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return fmt.Errorf("%w: token endpoint returned %d: %s", ErrUnauthorized, status, truncate(re.Body))
		}
		return fmt.Errorf("%w: token endpoint returned %d", ErrFetch, status)
	}
	return fmt.Errorf("%w: token: %v", ErrFetch, err)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if len(body) > maxResponseBytes {
		return nil, resp.StatusCode, fmt.Errorf("%w: response exceeds %d bytes", ErrFetch, maxResponseBytes)
	}
	return body, resp.StatusCode, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
