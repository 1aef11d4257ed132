package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	notionBaseURL = "https://api.notion.com/v1"
	notionVersion = "2022-06-28"
)

// NotionClient reads the event database.  The integration token only
// needs read access to that one database.
type NotionClient struct {
	token      string
	databaseID string
	baseURL    string
	httpc      *http.Client
	log        *zap.Logger
}

// NewNotionClient builds a NotionClient for one database.
func NewNotionClient(token, databaseID string, log *zap.Logger) *NotionClient {
	return &NotionClient{
		token:      token,
		databaseID: databaseID,
		baseURL:    notionBaseURL,
		httpc:      &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// notionPage is the slice of a database page we read.  Property names
// follow the event database convention: Name (title), Date (date),
// Location (select), Description (rich text).
type notionPage struct {
	ID         string `json:"id"`
	Properties struct {
		Name struct {
			Title []notionText `json:"title"`
		} `json:"Name"`
		Date struct {
			Date *struct {
				Start string `json:"start"`
				End   string `json:"end"`
			} `json:"date"`
		} `json:"Date"`
		Location struct {
			Select *struct {
				Name string `json:"name"`
			} `json:"select"`
		} `json:"Location"`
		Description struct {
			RichText []notionText `json:"rich_text"`
		} `json:"Description"`
	} `json:"properties"`
}

type notionText struct {
	PlainText string `json:"plain_text"`
}

func joinText(parts []notionText) string {
	s := ""
	for _, p := range parts {
		s += p.PlainText
	}
	return s
}

// Events queries the full database and returns the pages that parse
// into valid events.  Pages without a title or a usable start date are
// skipped with a warning, matching how a half-filled row should behave:
// ignored, not fatal.
func (n *NotionClient) Events(ctx context.Context) ([]Event, error) {
	var events []Event
	cursor := ""
	for {
		pages, next, err := n.queryPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, p := range pages {
			ev, ok := n.parsePage(p)
			if ok {
				events = append(events, ev)
			}
		}
		if next == "" {
			return events, nil
		}
		cursor = next
	}
}

func (n *NotionClient) parsePage(p notionPage) (Event, bool) {
	summary := joinText(p.Properties.Name.Title)
	if summary == "" {
		n.log.Warn("notion page skipped, no title", zap.String("page_id", p.ID))
		return Event{}, false
	}
	if p.Properties.Date.Date == nil {
		n.log.Warn("notion page skipped, no date", zap.String("page_id", p.ID))
		return Event{}, false
	}
	start, ok := parseTime(p.Properties.Date.Date.Start)
	if !ok {
		n.log.Warn("notion page skipped, unparseable start date",
			zap.String("page_id", p.ID), zap.String("start", p.Properties.Date.Date.Start))
		return Event{}, false
	}
	ev := Event{
		NotionPageID: p.ID,
		Summary:      summary,
		Description:  joinText(p.Properties.Description.RichText),
		Start:        start,
	}
	if sel := p.Properties.Location.Select; sel != nil {
		ev.Location = sel.Name
	}
	if end, ok := parseTime(p.Properties.Date.Date.End); ok {
		ev.End = end
	}
	ev.ensureEnd()
	return ev, true
}

func (n *NotionClient) queryPage(ctx context.Context, cursor string) ([]notionPage, string, error) {
	body := map[string]interface{}{"page_size": 100}
	if cursor != "" {
		body["start_cursor"] = cursor
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	url := fmt.Sprintf("%s/databases/%s/query", n.baseURL, n.databaseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", newAPIError("notion query", resp)
	}
	var out struct {
		Results    []notionPage `json:"results"`
		HasMore    bool         `json:"has_more"`
		NextCursor string       `json:"next_cursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", err
	}
	if !out.HasMore {
		return out.Results, "", nil
	}
	return out.Results, out.NextCursor, nil
}

// newAPIError drains what it needs from resp to build an *APIError.
func newAPIError(op string, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	retryAfter := time.Duration(0)
	if s := resp.Header.Get("Retry-After"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			retryAfter = time.Duration(n) * time.Second
		}
	}
	return &APIError{Op: op, Status: resp.StatusCode, RetryAfter: retryAfter, Body: string(body)}
}
