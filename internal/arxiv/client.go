// Package arxiv talks to the arXiv export API and recognizes arXiv
// identifiers in free text.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"litagent/internal/ingest"
	"litagent/internal/util"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL    = "http://export.arxiv.org/api/query"
	DefaultPDFBaseURL = "https://arxiv.org/pdf"

	defaultMaxResults = 5
	maxMaxResults     = 100
	maxFeedBytes      = 8 << 20
	maxPDFBytes       = 64 << 20
)

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02",
}

// Client implements ingest.Repository against the arXiv Atom API.
type Client struct {
	baseURL    string
	pdfBaseURL string
	http       *http.Client
	logger     *zap.Logger
	userAgent  string
	maxPDF     int64
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxPDFBytes caps the size of a downloaded document.
func WithMaxPDFBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPDF = n
		}
	}
}

func NewClient(baseURL, pdfBaseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if strings.TrimSpace(pdfBaseURL) == "" {
		pdfBaseURL = DefaultPDFBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		pdfBaseURL: strings.TrimRight(pdfBaseURL, "/"),
		http:       &http.Client{Timeout: 2 * time.Minute},
		logger:     zap.NewNop(),
		userAgent:  "litagent/1.0",
		maxPDF:     maxPDFBytes,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search runs a keyword query over all fields and returns up to maxResults
// entries in arXiv relevance order.
func (c *Client) Search(ctx context.Context, keyword string, maxResults int) ([]ingest.Metadata, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("arxiv search: empty keyword: %w", util.ErrInvalidInput)
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxMaxResults {
		maxResults = maxMaxResults
	}
	q := url.Values{}
	q.Set("search_query", "all:"+keyword)
	q.Set("start", "0")
	q.Set("max_results", strconv.Itoa(maxResults))
	entries, err := c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]ingest.Metadata, 0, len(entries))
	for _, e := range entries {
		md, ok := c.toMetadata(e)
		if !ok {
			continue
		}
		out = append(out, md)
	}
	return out, nil
}

// Fetch resolves one identifier to its metadata and PDF bytes. An id arXiv
// does not know yields util.ErrNotFound.
func (c *Client) Fetch(ctx context.Context, externalID string) (ingest.Document, error) {
	id, err := Canonical(externalID)
	if err != nil {
		return ingest.Document{}, err
	}
	q := url.Values{}
	q.Set("id_list", id)
	q.Set("max_results", "1")
	entries, err := c.query(ctx, q)
	if err != nil {
		return ingest.Document{}, err
	}
	var md ingest.Metadata
	found := false
	for _, e := range entries {
		if m, ok := c.toMetadata(e); ok {
			md, found = m, true
			break
		}
	}
	if !found {
		return ingest.Document{}, fmt.Errorf("arxiv %s: %w", id, util.ErrNotFound)
	}
	md.ExternalID = id
	if md.PDFURL == "" {
		md.PDFURL = c.pdfBaseURL + "/" + id
	}
	content, err := c.download(ctx, md.PDFURL)
	if err != nil {
		return ingest.Document{}, err
	}
	return ingest.Document{Metadata: md, Content: content}, nil
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

func (c *Client) query(ctx context.Context, q url.Values) ([]atomEntry, error) {
	body, err := c.get(ctx, c.baseURL+"?"+q.Encode(), maxFeedBytes)
	if err != nil {
		return nil, err
	}
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode arxiv feed: %w", err)
	}
	return feed.Entries, nil
}

func (c *Client) download(ctx context.Context, pdfURL string) ([]byte, error) {
	return c.get(ctx, pdfURL, c.maxPDF)
}

func (c *Client) get(ctx context.Context, target string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build arxiv request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("arxiv GET %s: %w", target, util.ErrNotFound)
		}
		return nil, fmt.Errorf("arxiv GET %s: unexpected status %d", target, resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("arxiv GET %s: %d bytes over the %d byte limit: %w", target, resp.ContentLength, limit, util.ErrDocumentTooLarge)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read arxiv response: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("arxiv GET %s: body over the %d byte limit: %w", target, limit, util.ErrDocumentTooLarge)
	}
	return body, nil
}

// toMetadata drops the pseudo-entries arXiv returns for rejected queries.
func (c *Client) toMetadata(e atomEntry) (ingest.Metadata, bool) {
	if strings.Contains(e.ID, "/api/errors") {
		c.logger.Debug("arxiv returned error entry", zap.String("summary", strings.TrimSpace(e.Summary)))
		return ingest.Metadata{}, false
	}
	rawID := e.ID
	if i := strings.LastIndex(rawID, "/abs/"); i >= 0 {
		rawID = rawID[i+len("/abs/"):]
	}
	id, err := Canonical(rawID)
	if err != nil {
		c.logger.Debug("skip arxiv entry with unrecognized id", zap.String("id", e.ID))
		return ingest.Metadata{}, false
	}
	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}
	md := ingest.Metadata{
		ExternalID: id,
		Title:      collapse(e.Title),
		Authors:    strings.Join(authors, ", "),
		Abstract:   collapse(e.Summary),
		URL:        strings.TrimSpace(e.ID),
	}
	for _, l := range e.Links {
		switch {
		case l.Title == "pdf" || l.Type == "application/pdf":
			md.PDFURL = l.Href
		case l.Rel == "alternate" && l.Href != "":
			md.URL = l.Href
		}
	}
	if t, ok := parseDate(e.Published); ok {
		md.PublishedAt = &t
	} else if strings.TrimSpace(e.Published) != "" {
		c.logger.Warn("unparseable arxiv publication date",
			zap.String("external_id", id), zap.String("published", e.Published))
	}
	return md, true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
