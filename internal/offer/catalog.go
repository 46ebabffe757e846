package offer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
)

const defaultTimeout = 15 * time.Second

// CatalogClient reads offers from the partner catalog HTTP API: GET {BaseURL}/offers/{id}?country={country}.
type CatalogClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewCatalogClient returns a client for baseURL. token, when set, is sent as a bearer token.
func NewCatalogClient(baseURL, token string) *CatalogClient {
	return &CatalogClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// GetOffer implements Lookup.
func (c *CatalogClient) GetOffer(ctx context.Context, country, offerID string) (*domain.Offer, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("offer: catalog URL not configured")
	}
	if offerID == "" {
		return nil, fmt.Errorf("offer: empty offer id")
	}
	u := c.BaseURL + "/offers/" + url.PathEscape(offerID) + "?" + url.Values{"country": {country}}.Encode()
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
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s in %s", ErrOfferNotFound, offerID, country)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("offer: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	var o domain.Offer
	if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
		return nil, fmt.Errorf("offer: decode %s: %w", offerID, err)
	}
	if o.ID == "" {
		o.ID = offerID
	}
	if o.Country == "" {
		o.Country = country
	}
	return &o, nil
}
