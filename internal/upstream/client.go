// Package upstream implements the HTTP client for the comment service's
// resolve and pagination endpoints.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/harvesterlabs/threadharvest/internal/credentials"
	"github.com/harvesterlabs/threadharvest/internal/harvest"
)

// ErrCredentialsRequired is returned when the client is constructed without
// a usable credential bundle. Comment harvesting fails fast rather than
// producing empty results page by page.
var ErrCredentialsRequired = errors.New("upstream client requires credentials")

// Endpoint paths relative to the configured base URL.
const (
	resolvePath = "/api/resolve"
	rootsPath   = "/api/comments"
	repliesPath = "/api/comments/replies"
)

// Config controls client behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client talks to the upstream comment API. A non-nil error from its methods
// means no decodable envelope was produced; nonzero response codes come back
// inside the parsed result.
type Client struct {
	cfg     Config
	httpc   *http.Client
	headers http.Header
	logger  *zap.Logger
}

// New builds a Client. It fails fast when the credential bundle is empty.
func New(cfg Config, creds credentials.Bundle, logger *zap.Logger) (*Client, error) {
	if creds.Empty() {
		return nil, ErrCredentialsRequired
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("upstream base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("Cookie", creds.CookieHeader())
	if cfg.UserAgent != "" {
		headers.Set("User-Agent", cfg.UserAgent)
	}
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		headers: headers,
		logger:  logger,
	}, nil
}

// envelope is the common response wrapper. Data stays a pointer so Code is
// always validated before any field inside it is touched.
type envelope struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    *payload `json:"data"`
}

type payload struct {
	Handle   *int64        `json:"handle"`
	Comments []wireComment `json:"comments"`
	Cursor   *wireCursor   `json:"cursor"`
}

type wireComment struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	ReplyCount int    `json:"reply_count"`
}

type wireCursor struct {
	IsEnd bool `json:"is_end"`
}

// Resolve maps an item reference to its internal numeric handle.
func (c *Client) Resolve(ctx context.Context, ref harvest.ItemReference) (harvest.ResolveResult, error) {
	q := url.Values{}
	q.Set("ref", string(ref))
	env, err := c.get(ctx, resolvePath, q)
	if err != nil {
		return harvest.ResolveResult{}, err
	}
	res := harvest.ResolveResult{Code: env.Code}
	if env.Code == harvest.CodeOK && env.Data != nil && env.Data.Handle != nil {
		res.Handle = harvest.InternalHandle(*env.Data.Handle)
	}
	return res, nil
}

// RootComments fetches one page of root comments for a handle.
func (c *Client) RootComments(ctx context.Context, handle harvest.InternalHandle, page, size int) (harvest.CommentPage, error) {
	q := url.Values{}
	q.Set("handle", strconv.FormatInt(int64(handle), 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	env, err := c.get(ctx, rootsPath, q)
	if err != nil {
		return harvest.CommentPage{}, err
	}
	return toPage(env), nil
}

// Replies fetches one page of a root comment's reply thread.
func (c *Client) Replies(ctx context.Context, handle harvest.InternalHandle, rootID int64, page, size int) (harvest.CommentPage, error) {
	q := url.Values{}
	q.Set("handle", strconv.FormatInt(int64(handle), 10))
	q.Set("root", strconv.FormatInt(rootID, 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	env, err := c.get(ctx, repliesPath, q)
	if err != nil {
		return harvest.CommentPage{}, err
	}
	return toPage(env), nil
}

func toPage(env envelope) harvest.CommentPage {
	out := harvest.CommentPage{Code: env.Code}
	if env.Code != harvest.CodeOK || env.Data == nil {
		return out
	}
	out.Comments = make([]harvest.RootComment, 0, len(env.Data.Comments))
	for _, w := range env.Data.Comments {
		out.Comments = append(out.Comments, harvest.RootComment{
			ID:         w.ID,
			Text:       w.Text,
			ReplyCount: w.ReplyCount,
		})
	}
	if env.Data.Cursor != nil {
		out.IsEnd = env.Data.Cursor.IsEnd
	}
	return out
}

// get issues one request and decodes the envelope. Non-2xx statuses and
// undecodable bodies are transport-level errors left to the caller's retry
// policy.
func (c *Client) get(ctx context.Context, path string, q url.Values) (envelope, error) {
	u := c.cfg.BaseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return envelope{}, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("upstream returned non-OK status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return envelope{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("decode response: %w", err)
	}
	return env, nil
}
