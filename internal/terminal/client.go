package terminal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/icholy/digest"

	"github.com/jpalmerr/turnstile/internal/model"
)

const (
	maxResponseBodySize = 4 << 20 // 4MB

	searchPath = "/ISAPI/AccessControl/AcsEvent?format=json"

	// timeLayout is the offset form the search API expects; "Z" is not accepted.
	timeLayout = "2006-01-02T15:04:05-07:00"

	DefaultTimeout = 15 * time.Second
	MaxTimeout     = 30 * time.Second
)

// connection pooling limits; a terminal is only ever polled by one goroutine
const (
	defaultMaxIdleConnsPerHost = 2
	defaultMaxConnsPerHost     = 2
	defaultIdleConnTimeout     = 60 * time.Second
)

// Config describes how to reach one terminal.
type Config struct {
	// BaseURL is scheme://host:port of the terminal.
	BaseURL string

	Username string
	Password string

	// Timeout bounds each request. Zero means [DefaultTimeout]; values
	// above [MaxTimeout] are clamped.
	Timeout time.Duration

	// Major and Minor select the vendor event codes to search for.
	// Minor 0 matches every minor code of Major.
	Major int
	Minor int
}

// Window is the time range queried during one poll cycle.
type Window struct {
	Start time.Time
	End   time.Time

	// SearchID identifies the cycle to the terminal. Empty means a fresh
	// id is generated per request.
	SearchID string
}

// Page is one page of search results.
type Page struct {
	Records []model.RawRecord

	// Next is the cursor of the following page, or nil when this page was
	// empty or shorter than requested.
	Next *int

	// TotalHint is the terminal's reported total match count. It is
	// advisory only; terminals do not report it reliably.
	TotalHint int
}

// Client fetches event pages from a single terminal.
//
// Client uses per-request timeouts via context and wraps a pooled transport
// with HTTP digest authentication. Response bodies are limited to 4MB.
type Client struct {
	httpClient *http.Client
	base       *http.Transport
	searchURL  string
	timeout    time.Duration
	major      int
	minor      int
}

// NewClient creates a [Client] for the terminal described by cfg.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}

	return &Client{
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: &digest.Transport{
				Username:  cfg.Username,
				Password:  cfg.Password,
				Transport: base,
			},
		},
		base:      base,
		searchURL: strings.TrimRight(cfg.BaseURL, "/") + searchPath,
		timeout:   timeout,
		major:     cfg.Major,
		minor:     cfg.Minor,
	}
}

type searchRequest struct {
	Cond searchCond `json:"AcsEventCond"`
}

type searchCond struct {
	SearchID             string `json:"searchID"`
	SearchResultPosition int    `json:"searchResultPosition"`
	MaxResults           int    `json:"maxResults"`
	Major                int    `json:"major"`
	Minor                int    `json:"minor"`
	StartTime            string `json:"startTime"`
	EndTime              string `json:"endTime"`
}

type searchResponse struct {
	AcsEvent *searchResult `json:"AcsEvent"`
}

type searchResult struct {
	SearchID     string       `json:"searchID"`
	Status       string       `json:"responseStatusStrg"`
	NumOfMatches int          `json:"numOfMatches"`
	TotalMatches int          `json:"totalMatches"`
	InfoList     []infoRecord `json:"InfoList"`
}

type infoRecord struct {
	Major            int        `json:"major"`
	Minor            int        `json:"minor"`
	Time             string     `json:"time"`
	EmployeeNo       flexString `json:"employeeNo"`
	EmployeeNoString string     `json:"employeeNoString"`
	Name             string     `json:"name"`
	PictureURL       string     `json:"pictureURL"`
	AttendanceStatus string     `json:"attendanceStatus"`
	LabelName        string     `json:"labelName"`
}

// flexString accepts both JSON strings and numbers; firmware versions
// disagree on the type of employeeNo.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// FetchPage requests up to pageSize records of w starting at cursor.
//
// Errors wrap [ErrUnreachable], [ErrAuthFailed] or [ErrProtocol].
func (c *Client) FetchPage(ctx context.Context, w Window, cursor, pageSize int) (Page, error) {
	searchID := w.SearchID
	if searchID == "" {
		searchID = uuid.NewString()
	}

	body, err := json.Marshal(searchRequest{Cond: searchCond{
		SearchID:             searchID,
		SearchResultPosition: cursor,
		MaxResults:           pageSize,
		Major:                c.major,
		Minor:                c.minor,
		StartTime:            w.Start.Format(timeLayout),
		EndTime:              w.End.Format(timeLayout),
	}})
	if err != nil {
		return Page{}, fmt.Errorf("%w: encode search: %w", ErrProtocol, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL, bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("%w: create request: %w", ErrProtocol, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Page{}, fmt.Errorf("%w: read response: %w", ErrUnreachable, err)
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return Page{}, err
	}

	var sr searchResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return Page{}, fmt.Errorf("%w: decode response: %w", ErrProtocol, err)
	}
	if sr.AcsEvent == nil {
		return Page{}, fmt.Errorf("%w: response has no AcsEvent object", ErrProtocol)
	}

	page := Page{TotalHint: sr.AcsEvent.TotalMatches}
	if strings.EqualFold(sr.AcsEvent.Status, "NO MATCH") {
		return page, nil
	}

	page.Records = make([]model.RawRecord, 0, len(sr.AcsEvent.InfoList))
	for _, info := range sr.AcsEvent.InfoList {
		page.Records = append(page.Records, info.toRawRecord())
	}

	if n := len(page.Records); n > 0 && n >= pageSize {
		next := cursor + n
		page.Next = &next
	}

	return page, nil
}

// classifyStatus maps an HTTP status code to the error taxonomy.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrAuthFailed, code)
	case code >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUnreachable, code)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrProtocol, code)
	}
}

func (r infoRecord) toRawRecord() model.RawRecord {
	employee := r.EmployeeNoString
	if employee == "" {
		employee = string(r.EmployeeNo)
	}
	return model.RawRecord{
		Time:             r.Time,
		EmployeeNo:       employee,
		Name:             r.Name,
		PictureURL:       r.PictureURL,
		Major:            r.Major,
		Minor:            r.Minor,
		AttendanceStatus: r.AttendanceStatus,
		Label:            r.LabelName,
	}
}

// Close closes idle connections in the client's pool.
// Safe to call multiple times and on a nil client.
func (c *Client) Close() {
	if c == nil || c.base == nil {
		return
	}
	c.base.CloseIdleConnections()
}
