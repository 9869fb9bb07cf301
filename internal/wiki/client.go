package wiki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go-wiki-client/internal/config"
	"go-wiki-client/internal/logger"
)

// Client is the HTTP transport for a wiki's query API. It implements
// the API interface consumed by the entity types, plus multipart
// uploads and raw media fetches.
//
// A single Client may be shared by many entity objects; token caching
// is the only mutable state and is guarded internally.
type Client struct {
	endpoint  string
	userAgent string
	maxlag    int
	httpc     *http.Client
	log       logger.Logger

	// retry tuning, lowered in tests
	retryInterval time.Duration
	maxRetries    uint64

	mu     sync.Mutex
	tokens map[string]string
}

// NewClient builds a Client from configuration. A nil log discards
// client-side logging.
func NewClient(cfg config.APIConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		endpoint:      cfg.URL,
		userAgent:     cfg.UserAgent,
		maxlag:        cfg.Maxlag,
		httpc:         &http.Client{Timeout: cfg.Timeout, Jar: jar},
		log:           log,
		retryInterval: 500 * time.Millisecond,
		maxRetries:    4,
		tokens:        make(map[string]string),
	}
}

// String identifies the client by its endpoint; it is part of the
// entity repr contract.
func (c *Client) String() string { return c.endpoint }

// Page returns an unloaded Page handle bound to this client.
func (c *Client) Page(title string) *Page { return NewPage(c, title) }

// PageByID returns an unloaded Page handle for a page id.
func (c *Client) PageByID(pageid int64) *Page { return NewPageByID(c, pageid) }

// Revision returns an unloaded Revision handle bound to this client.
func (c *Client) Revision(revid int64) *Revision { return NewRevision(c, revid) }

// User returns an unloaded User handle bound to this client.
func (c *Client) User(name string) *User { return NewUser(c, name) }

// File returns an unloaded File handle bound to this client.
func (c *Client) File(title string) *File { return NewFile(c, title) }

// Call executes one mutating request and returns the raw decoded
// result. Errors reported by the API surface as *APIError.
func (c *Client) Call(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, params)
}

// Iterator executes an action=query request and yields one record per
// result entry, following continuation parameters across requests.
// With useDefaults, the client's default query parameters are merged
// in; entities pass false and send exactly what they need.
func (c *Client) Iterator(params url.Values, useDefaults bool) *Iter {
	q := url.Values{"action": {"query"}}
	if useDefaults {
		q.Set("redirects", "")
	}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return &Iter{fetch: func(ctx context.Context, cont url.Values) ([]json.RawMessage, url.Values, error) {
		req := url.Values{}
		for k, vs := range q {
			req[k] = vs
		}
		for k, vs := range cont {
			req[k] = vs
		}
		raw, err := c.do(ctx, http.MethodGet, req)
		if err != nil {
			return nil, nil, err
		}
		var envelope struct {
			Continue map[string]string          `json:"continue"`
			Query    map[string]json.RawMessage `json:"query"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, nil, fmt.Errorf("decode query response: %w", err)
		}
		records, err := flattenQuery(envelope.Query)
		if err != nil {
			return nil, nil, err
		}
		var next url.Values
		if len(envelope.Continue) > 0 {
			next = url.Values{}
			for k, v := range envelope.Continue {
				next.Set(k, v)
			}
		}
		return records, next, nil
	}}
}

// flattenQuery turns the query object into a flat record list: page
// results come back keyed by page id, list results as arrays.
func flattenQuery(query map[string]json.RawMessage) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if pagesRaw, ok := query["pages"]; ok {
		var pages map[string]json.RawMessage
		if err := json.Unmarshal(pagesRaw, &pages); err != nil {
			return nil, fmt.Errorf("decode pages: %w", err)
		}
		ids := make([]string, 0, len(pages))
		for id := range pages {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			records = append(records, pages[id])
		}
		return records, nil
	}
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "normalized" || name == "redirects" || name == "interwiki" {
			continue
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(query[name], &arr); err != nil {
			continue // meta objects such as userinfo are not records
		}
		records = append(records, arr...)
	}
	return records, nil
}

// CSRFToken returns the account's edit token.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	return c.Token(ctx, "csrf")
}

// Token fetches a token of the given kind ("csrf", "login", ...) and
// caches it for the session.
func (c *Client) Token(ctx context.Context, kind string) (string, error) {
	c.mu.Lock()
	if tok, ok := c.tokens[kind]; ok {
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	params := url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
		"type":   {kind},
	}
	raw, err := c.do(ctx, http.MethodGet, params)
	if err != nil {
		return "", err
	}
	var envelope struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	tok, ok := envelope.Query.Tokens[kind+"token"]
	if !ok {
		return "", fmt.Errorf("no %s token in response", kind)
	}
	c.mu.Lock()
	c.tokens[kind] = tok
	c.mu.Unlock()
	return tok, nil
}

// Login authenticates the session with the bot-password flow: fetch a
// login token, then post action=login. Tokens cached before the login
// are discarded since they belonged to the old session.
func (c *Client) Login(ctx context.Context, username, password string) error {
	token, err := c.Token(ctx, "login")
	if err != nil {
		return err
	}
	raw, err := c.Call(ctx, url.Values{
		"action":     {"login"},
		"lgname":     {username},
		"lgpassword": {password},
		"lgtoken":    {token},
	})
	if err != nil {
		return err
	}
	var envelope struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"login"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if envelope.Login.Result != "Success" {
		return fmt.Errorf("login failed: %s: %s", envelope.Login.Result, envelope.Login.Reason)
	}
	c.mu.Lock()
	c.tokens = make(map[string]string)
	c.mu.Unlock()
	c.log.With(map[string]interface{}{"user": username}).Info("logged in")
	return nil
}

// UserInfo returns the name of the account the session is
// authenticated as.
func (c *Client) UserInfo(ctx context.Context) (string, error) {
	params := url.Values{
		"action": {"query"},
		"meta":   {"userinfo"},
	}
	raw, err := c.do(ctx, http.MethodGet, params)
	if err != nil {
		return "", err
	}
	var envelope struct {
		Query struct {
			UserInfo struct {
				Name string `json:"name"`
			} `json:"userinfo"`
		} `json:"query"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("decode userinfo response: %w", err)
	}
	return envelope.Query.UserInfo.Name, nil
}

// Upload posts a multipart upload request carrying the file contents.
func (c *Client) Upload(ctx context.Context, params url.Values, filename string, file io.Reader) (json.RawMessage, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, vs := range params {
		for _, v := range vs {
			if err := w.WriteField(k, v); err != nil {
				return nil, err
			}
		}
	}
	if err := w.WriteField("format", "json"); err != nil {
		return nil, err
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return checkResponse(resp.StatusCode, resp.Status, raw)
}

// Fetch retrieves a raw URL, such as a file's media URL, using the
// client's session.
func (c *Client) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}
	return resp.Body, nil
}

// do sends one API request, retrying with exponential backoff when the
// server reports replication lag or a transient failure. API errors
// other than maxlag/ratelimited are permanent and returned as
// *APIError.
func (c *Client) do(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	merged := url.Values{"format": {"json"}}
	for k, vs := range params {
		merged[k] = vs
	}
	if c.maxlag > 0 && !merged.Has("maxlag") {
		merged.Set("maxlag", strconv.Itoa(c.maxlag))
	}
	encoded := merged.Encode()

	var raw json.RawMessage
	op := func() error {
		var req *http.Request
		var err error
		if method == http.MethodGet {
			req, err = http.NewRequestWithContext(ctx, method, c.endpoint+"?"+encoded, nil)
		} else {
			req, err = http.NewRequestWithContext(ctx, method, c.endpoint, strings.NewReader(encoded))
			if err == nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		c.log.With(map[string]interface{}{"action": merged.Get("action"), "method": method}).Debug("api request")
		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		out, err := checkResponse(resp.StatusCode, resp.Status, body)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && (apiErr.Code == "maxlag" || apiErr.Code == "ratelimited") {
				c.log.With(map[string]interface{}{"code": apiErr.Code}).Warn("server asked to back off, retrying")
				return err
			}
			if retryableStatus(resp.StatusCode) {
				return err
			}
			return backoff.Permanent(err)
		}
		raw = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return raw, nil
}

// checkResponse validates an API response body, surfacing the error
// object when present.
func checkResponse(statusCode int, status string, body []byte) (json.RawMessage, error) {
	if statusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", status)
	}
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	return json.RawMessage(body), nil
}

func retryableStatus(statusCode int) bool {
	return statusCode >= 500
}
