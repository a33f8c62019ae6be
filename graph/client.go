package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dhcgn/mailbox-to-mbox/auth"
	"github.com/dhcgn/mailbox-to-mbox/filter"
	"github.com/dhcgn/mailbox-to-mbox/model"
)

const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// ErrFolderNotFound is fatal for the whole run: the requested folder does
// not resolve to exactly one mailbox folder.
var ErrFolderNotFound = errors.New("folder not found")

// TransientError marks a request failure worth retrying (network error,
// throttling, server-side 5xx). The orchestrator retries bounded attempts
// before escalating to fatal.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch error (%s): %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Well-known folder names accepted directly by the API without a lookup.
var wellKnownFolders = map[string]string{
	"inbox":        "inbox",
	"sentitems":    "sentitems",
	"sent":         "sentitems",
	"drafts":       "drafts",
	"deleteditems": "deleteditems",
	"trash":        "deleteditems",
	"archive":      "archive",
	"junkemail":    "junkemail",
	"junk":         "junkemail",
	"outbox":       "outbox",
}

type Options struct {
	BaseURL    string
	Tokens     auth.TokenProvider
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the narrow mailbox-API surface this tool needs: folder
// resolution, an advisory count, ordered filtered pages and per-message
// attachment listings.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenProvider
	logger  *slog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token provider must not be nil")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		tokens:  opts.Tokens,
		logger:  opts.Logger,
	}, nil
}

// ResolveFolder maps a logical folder name to a provider folder id. Names in
// the well-known set pass through; anything else is looked up by display
// name and must match exactly one folder.
func (c *Client) ResolveFolder(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("folder name is empty")
	}

	if id, ok := wellKnownFolders[strings.ToLower(name)]; ok {
		return id, nil
	}

	query := url.Values{}
	// single quotes inside OData string literals are doubled
	query.Set("$filter", fmt.Sprintf("displayName eq '%s'", strings.ReplaceAll(name, "'", "''")))

	var page struct {
		Value []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	if err := c.getJSON(ctx, "/me/mailFolders?"+query.Encode(), "list folders", &page); err != nil {
		return "", fmt.Errorf("resolve folder %q: %w", name, err)
	}

	if len(page.Value) != 1 {
		return "", fmt.Errorf("folder %q matched %d folders: %w", name, len(page.Value), ErrFolderNotFound)
	}

	if c.logger != nil {
		c.logger.Debug("resolved folder", "name", name, "id", page.Value[0].ID)
	}
	return page.Value[0].ID, nil
}

// Total returns the server's advisory message count for the folder within
// the given range. The count can be stale; pagination never terminates on
// it, only on a short page.
func (c *Client) Total(ctx context.Context, folderID string, rng filter.Range) (int, error) {
	if rng.IsZero() {
		var folder struct {
			TotalItemCount int `json:"totalItemCount"`
		}
		if err := c.getJSON(ctx, "/me/mailFolders/"+url.PathEscape(folderID), "folder total", &folder); err != nil {
			return 0, fmt.Errorf("query folder total: %w", err)
		}
		return folder.TotalItemCount, nil
	}

	query := url.Values{}
	query.Set("$filter", rng.QueryExpr())
	query.Set("$count", "true")
	query.Set("$top", "1")
	query.Set("$select", "id")

	var page struct {
		Count int `json:"@odata.count"`
	}
	if err := c.getJSON(ctx, "/me/mailFolders/"+url.PathEscape(folderID)+"/messages?"+query.Encode(), "filtered total", &page); err != nil {
		return 0, fmt.Errorf("query filtered total: %w", err)
	}
	return page.Count, nil
}

// ListPage fetches one page of messages ordered by received time descending.
// The returned cursor is positioned after this page; callers must stop on a
// short page regardless of any advisory total.
func (c *Client) ListPage(ctx context.Context, folderID string, cur Cursor, rng filter.Range) ([]model.MessageRecord, Cursor, error) {
	var target string
	switch cur.Kind {
	case CursorServerToken:
		// opaque continuation issued by the server, used verbatim
		target = cur.Token
	default:
		query := url.Values{}
		query.Set("$top", fmt.Sprintf("%d", cur.PageSize))
		query.Set("$skip", fmt.Sprintf("%d", cur.Offset))
		query.Set("$orderby", "receivedDateTime desc")
		if expr := rng.QueryExpr(); expr != "" {
			query.Set("$filter", expr)
		}
		target = c.baseURL + "/me/mailFolders/" + url.PathEscape(folderID) + "/messages?" + query.Encode()
	}

	var page struct {
		Value    []wireMessage `json:"value"`
		NextLink string        `json:"@odata.nextLink"`
	}
	if err := c.getJSONURL(ctx, target, "list messages", &page); err != nil {
		return nil, cur, err
	}

	records := make([]model.MessageRecord, 0, len(page.Value))
	for _, wm := range page.Value {
		records = append(records, wm.toRecord())
	}

	next := cur.Advance(len(records), page.NextLink)
	return records, next, nil
}

// ListAttachments fetches attachment metadata and content for one message.
func (c *Client) ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error) {
	var page struct {
		Value []wireAttachment `json:"value"`
	}
	if err := c.getJSON(ctx, "/me/messages/"+url.PathEscape(messageID)+"/attachments", "list attachments", &page); err != nil {
		return nil, fmt.Errorf("list attachments for %s: %w", messageID, err)
	}

	attachments := make([]model.Attachment, 0, len(page.Value))
	for _, wa := range page.Value {
		attachments = append(attachments, wa.toAttachment())
	}
	return attachments, nil
}

func (c *Client) getJSON(ctx context.Context, path, op string, out any) error {
	return c.getJSONURL(ctx, c.baseURL+path, op, out)
}

func (c *Client) getJSONURL(ctx context.Context, target, op string, out any) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.tokens.Invalidate()
		return fmt.Errorf("mailbox api status %d: %w", resp.StatusCode, auth.ErrNotAuthenticated)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("mailbox api status %d", resp.StatusCode)}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mailbox api status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
