package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
)

const gcalBaseURL = "https://www.googleapis.com/calendar/v3"

// notionPageIDProp is the extended-property key marking an event as
// managed by this sync.
const notionPageIDProp = "notionPageId"

// GCalEvent is the Google Calendar event shape the sync reads and
// writes.
type GCalEvent struct {
	ID                 string    `json:"id,omitempty"`
	Summary            string    `json:"summary,omitempty"`
	Location           string    `json:"location,omitempty"`
	Description        string    `json:"description,omitempty"`
	Start              EventTime `json:"start,omitempty"`
	End                EventTime `json:"end,omitempty"`
	Updated            string    `json:"updated,omitempty"`
	Status             string    `json:"status,omitempty"`
	ExtendedProperties *struct {
		Private map[string]string `json:"private,omitempty"`
	} `json:"extendedProperties,omitempty"`
}

// NotionPageID returns the managing Notion page id, empty for events
// not created by the sync.
func (e GCalEvent) NotionPageID() string {
	if e.ExtendedProperties == nil {
		return ""
	}
	return e.ExtendedProperties.Private[notionPageIDProp]
}

// GCalClient talks to the Google Calendar REST API authenticated as a
// service account.
type GCalClient struct {
	calendarID string
	baseURL    string
	httpc      *http.Client
	log        *zap.Logger
}

// NewGCalClient builds a client from service-account JSON credentials.
// The account must have write access to the calendar (shared to its
// client email).
func NewGCalClient(ctx context.Context, serviceAccountJSON []byte, calendarID string, log *zap.Logger) (*GCalClient, error) {
	conf, err := google.JWTConfigFromJSON(serviceAccountJSON, "https://www.googleapis.com/auth/calendar")
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}
	httpc := conf.Client(ctx)
	httpc.Timeout = 30 * time.Second
	return &GCalClient{calendarID: calendarID, baseURL: gcalBaseURL, httpc: httpc, log: log}, nil
}

// Events lists every event on the calendar, following pagination.
func (g *GCalClient) Events(ctx context.Context) ([]GCalEvent, error) {
	var all []GCalEvent
	pageToken := ""
	for {
		q := url.Values{"maxResults": {"2500"}, "singleEvents": {"false"}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var out struct {
			Items         []GCalEvent `json:"items"`
			NextPageToken string      `json:"nextPageToken"`
		}
		path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(g.calendarID), q.Encode())
		if err := g.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Items...)
		if out.NextPageToken == "" {
			return all, nil
		}
		pageToken = out.NextPageToken
	}
}

// Insert creates a calendar event for ev, tagged with its Notion page
// id, and returns the Google event id.
func (g *GCalClient) Insert(ctx context.Context, ev Event) (string, error) {
	payload := toGCal(ev)
	var created GCalEvent
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(g.calendarID))
	if err := g.do(ctx, http.MethodPost, path, payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// Update overwrites the event identified by gcalID with ev's fields.
func (g *GCalClient) Update(ctx context.Context, gcalID string, ev Event) error {
	payload := toGCal(ev)
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(g.calendarID), url.PathEscape(gcalID))
	return g.do(ctx, http.MethodPut, path, payload, nil)
}

// Delete removes an event.  A 404 or 410 counts as success: the event
// is gone either way.
func (g *GCalClient) Delete(ctx context.Context, gcalID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(g.calendarID), url.PathEscape(gcalID))
	err := g.do(ctx, http.MethodDelete, path, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == 404 || apiErr.Status == 410) {
		return nil
	}
	return err
}

func toGCal(ev Event) GCalEvent {
	out := GCalEvent{
		Summary:     ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
		Start:       ev.Start,
		End:         ev.End,
	}
	out.ExtendedProperties = &struct {
		Private map[string]string `json:"private,omitempty"`
	}{Private: map[string]string{notionPageIDProp: ev.NotionPageID}}
	return out
}

func (g *GCalClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return newAPIError("gcal "+method+" "+path, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
