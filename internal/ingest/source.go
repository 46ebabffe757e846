package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	checkpointdomain "github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/domain"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
)

const sourceTimeout = 60 * time.Second

// HTTPSource reads tenant data from the partner platform gateway:
//
//	GET {BaseURL}/tenants/{tenant}/auditrecords?since={RFC3339}
//	GET {BaseURL}/tenants/{tenant}/{resource}
//
// Responses are pages of the form {"items": [...], "continuationToken": "..."}; the token is sent
// back as the continuationToken query parameter until it comes back empty.
type HTTPSource struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewHTTPSource returns a source for baseURL. token, when set, is sent as a bearer token.
func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: sourceTimeout},
	}
}

type sourcePage struct {
	Items             []json.RawMessage `json:"items"`
	ContinuationToken string            `json:"continuationToken"`
}

// AuditRecords implements Source.
func (c *HTTPSource) AuditRecords(ctx context.Context, tenantID string, since time.Time) ([]domain.AuditRecord, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	items, err := c.fetch(ctx, tenantID, "auditrecords", q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditRecord, 0, len(items))
	for i, raw := range items {
		var r domain.AuditRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("ingest: decode audit record %d of %s: %w", i, tenantID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Snapshot implements Source.
func (c *HTTPSource) Snapshot(ctx context.Context, tenantID string, resource checkpointdomain.Resource) (json.RawMessage, error) {
	items, err := c.fetch(ctx, tenantID, string(resource), url.Values{})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return json.Marshal(items)
}

func (c *HTTPSource) fetch(ctx context.Context, tenantID, path string, q url.Values) ([]json.RawMessage, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("ingest: source URL not configured")
	}
	base := c.BaseURL + "/tenants/" + url.PathEscape(tenantID) + "/" + path
	var items []json.RawMessage
	for {
		u := base
		if enc := q.Encode(); enc != "" {
			u += "?" + enc
		}
		page, err := c.get(ctx, u)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if page.ContinuationToken == "" {
			return items, nil
		}
		if page.ContinuationToken == q.Get("continuationToken") {
			return nil, fmt.Errorf("ingest: source repeated continuation token for %s", base)
		}
		q.Set("continuationToken", page.ContinuationToken)
	}
}

func (c *HTTPSource) get(ctx context.Context, u string) (*sourcePage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("ingest: source request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	var p sourcePage
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("ingest: decode source page: %w", err)
	}
	return &p, nil
}
