// Package workspace talks to the remote block-based document store over its
// versioned REST API.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://api.workspace.dev"
	defaultAPIVersion = "2024-05-01"
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 2 * time.Second
	listPageSize      = 100
)

// APIError carries the remote service's structured error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("workspace api: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("workspace api: status=%d message=%s", e.StatusCode, e.Message)
}

// ClientOptions configures a Client bound to one integration's access token.
type ClientOptions struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	APIVersion  string
	UserAgent   string
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Client is a thin HTTP client for the remote workspace API. Requests retry
// on 429 and 5xx with bounded exponential backoff, honouring Retry-After.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	apiVersion  string
	userAgent   string
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewClient constructs a Client with sane defaults for unset options.
func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	return &Client{
		baseURL:     baseURL,
		accessToken: strings.TrimSpace(opts.AccessToken),
		httpClient:  httpClient,
		apiVersion:  apiVersion,
		userAgent:   strings.TrimSpace(opts.UserAgent),
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

type richTextSpan struct {
	Text TextContent `json:"text"`
}

type titleProperty struct {
	Title []RichText `json:"title"`
}

type multiSelectOption struct {
	Name string `json:"name"`
}

type multiSelectProperty struct {
	MultiSelect []multiSelectOption `json:"multi_select"`
}

type documentProperties struct {
	Name titleProperty       `json:"Name"`
	Tags multiSelectProperty `json:"Tags"`
}

type documentPayload struct {
	ID     string `json:"id"`
	Parent struct {
		DatabaseID string `json:"database_id"`
	} `json:"parent"`
	Properties     documentProperties `json:"properties"`
	LastEditedTime time.Time          `json:"last_edited_time"`
}

func (p documentPayload) toDocument() Document {
	doc := Document{
		ID:          p.ID,
		ContainerID: p.Parent.DatabaseID,
		UpdatedAt:   p.LastEditedTime,
	}
	for _, span := range p.Properties.Name.Title {
		if span.PlainText != "" {
			doc.Title += span.PlainText
			continue
		}
		if span.Text != nil {
			doc.Title += span.Text.Content
		}
	}
	for _, option := range p.Properties.Tags.MultiSelect {
		doc.Tags = append(doc.Tags, option.Name)
	}
	return doc
}

func encodeProperties(props DocumentProps) documentProperties {
	encoded := documentProperties{
		Name: titleProperty{Title: []RichText{{
			PlainText: props.Title,
			Text:      &TextContent{Content: props.Title},
		}}},
	}
	encoded.Tags.MultiSelect = make([]multiSelectOption, 0, len(props.Tags))
	for _, tag := range props.Tags {
		encoded.Tags.MultiSelect = append(encoded.Tags.MultiSelect, multiSelectOption{Name: tag})
	}
	return encoded
}

// CreateContainer creates a workspace-level container with the given title
// and returns its id.
func (c *Client) CreateContainer(ctx context.Context, title string) (string, error) {
	request := map[string]any{
		"parent": map[string]any{"type": "workspace", "workspace": true},
		"title":  []richTextSpan{{Text: TextContent{Content: title}}},
	}
	var response struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/databases", request, &response); err != nil {
		return "", err
	}
	return response.ID, nil
}

// CreateDocument creates a document under the container with the provided
// properties and initial block children, returning the new document id.
func (c *Client) CreateDocument(ctx context.Context, containerID string, props DocumentProps, blocks []Block) (string, error) {
	request := map[string]any{
		"parent":     map[string]any{"database_id": containerID},
		"properties": encodeProperties(props),
		"children":   blocks,
	}
	var response struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/pages", request, &response); err != nil {
		return "", err
	}
	return response.ID, nil
}

// UpdateDocument rewrites the document's properties.
func (c *Client) UpdateDocument(ctx context.Context, documentID string, props DocumentProps) error {
	request := map[string]any{"properties": encodeProperties(props)}
	return c.do(ctx, http.MethodPatch, "/v1/pages/"+url.PathEscape(documentID), request, nil)
}

// GetDocument fetches a document's properties and timestamps.
func (c *Client) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var payload documentPayload
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+url.PathEscape(documentID), nil, &payload); err != nil {
		return Document{}, err
	}
	return payload.toDocument(), nil
}

// ListBlocks returns every block child of the document, following pagination.
func (c *Client) ListBlocks(ctx context.Context, documentID string) ([]Block, error) {
	var blocks []Block
	cursor := ""
	for {
		path := fmt.Sprintf("/v1/blocks/%s/children?page_size=%d", url.PathEscape(documentID), listPageSize)
		if cursor != "" {
			path += "&start_cursor=" + url.QueryEscape(cursor)
		}
		var page struct {
			Results    []Block `json:"results"`
			HasMore    bool    `json:"has_more"`
			NextCursor string  `json:"next_cursor"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		blocks = append(blocks, page.Results...)
		if !page.HasMore || page.NextCursor == "" {
			return blocks, nil
		}
		cursor = page.NextCursor
	}
}

// AppendBlocks appends block children to the document in order.
func (c *Client) AppendBlocks(ctx context.Context, documentID string, blocks []Block) error {
	if len(blocks) == 0 {
		return nil
	}
	request := map[string]any{"children": blocks}
	return c.do(ctx, http.MethodPatch, "/v1/blocks/"+url.PathEscape(documentID)+"/children", request, nil)
}

// DeleteBlock removes a single block.
func (c *Client) DeleteBlock(ctx context.Context, blockID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/blocks/"+url.PathEscape(blockID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, requestBody, responseBody any) error {
	if c == nil {
		return fmt.Errorf("workspace client is nil")
	}
	if c.accessToken == "" {
		return fmt.Errorf("workspace access token is empty")
	}

	var bodyBytes []byte
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return err
		}
		bodyBytes = encoded
	}
	requestURL := c.baseURL + path

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("Workspace-Version", c.apiVersion)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if responseBody == nil {
				return nil
			}
			return json.Unmarshal(respBytes, responseBody)
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if retryable && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBytes)),
		}
		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBytes, &parsed) == nil {
			apiErr.Code = parsed.Code
			if strings.TrimSpace(parsed.Message) != "" {
				apiErr.Message = parsed.Message
			}
		}
		return apiErr
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
