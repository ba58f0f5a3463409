package c3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"ai-tutor/internal/domain"
)

const defaultTimeout = 10 * time.Second

// HTTPStatusError captures non-2xx responses from the content service.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("c3: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client looks up curriculum content on the C3 content service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("c3: base url must not be empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("c3: parse base url: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch returns the content item for one curriculum id, or
// domain.ErrContentNotFound when the service has none.
func (c *Client) Fetch(ctx context.Context, curriculumID string) (domain.ContentItem, error) {
	curriculumID = strings.TrimSpace(curriculumID)
	if curriculumID == "" {
		return domain.ContentItem{}, errors.New("c3: curriculum id must not be empty")
	}

	endpoint := c.baseURL + "/content?" + url.Values{"usmos": {curriculumID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("c3: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("c3: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNotFound {
		return domain.ContentItem{}, fmt.Errorf("c3: %q: %w", curriculumID, domain.ErrContentNotFound)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.ContentItem{}, &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
	}

	var items []domain.ContentItem
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&items); err != nil {
		return domain.ContentItem{}, fmt.Errorf("c3: decode response: %w", err)
	}
	item, ok := pick(items, curriculumID)
	if !ok {
		return domain.ContentItem{}, fmt.Errorf("c3: %q: %w", curriculumID, domain.ErrContentNotFound)
	}
	return item, nil
}

func pick(items []domain.ContentItem, curriculumID string) (domain.ContentItem, bool) {
	if it, ok := lo.Find(items, func(it domain.ContentItem) bool {
		return lo.Contains(it.CurriculumIDs, curriculumID)
	}); ok {
		return it, true
	}
	return lo.First(items)
}
