// Package enrich resolves a tag read into a full product record: an
// attribute lookup against the product catalog, an image lookup keyed by
// the print card, and a defined fallback chain when either remote is
// unavailable. Resolution never returns a hard failure; a record with
// sentinel fields is always usable for display and dedup keying.
package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// flexString tolerates the catalog's loose typing: weight and piece
// fields arrive as JSON numbers or strings depending on the backing row.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var out string
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		*f = flexString(out)
		return nil
	}
	*f = flexString(s)
	return nil
}

// Attributes is the catalog's product attribute object for one tag.
// Field names follow the catalog's wire contract.
type Attributes struct {
	ID            int64      `json:"id"`
	Date          flexString `json:"fecha"`
	Area          flexString `json:"area"`
	ProductCode   flexString `json:"claveProducto"`
	ProductName   flexString `json:"nombreProducto"`
	GrossWeight   flexString `json:"pesoBruto"`
	NetWeight     flexString `json:"pesoNeto"`
	PalletWeight  flexString `json:"pesoTarima"`
	Pieces        flexString `json:"piezas"`
	UnitOfMeasure flexString `json:"uom"`
	EntryDate     flexString `json:"fechaEntrada"`
	PrintCard     flexString `json:"productPrintCard"`
}

type imageResponse struct {
	ImageBase64 string `json:"imageBase64"`
}

// Client is the HTTP client for the product catalog.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a catalog client. Every request is bounded by timeout;
// a timed-out fetch is indistinguishable from a failed one to callers.
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Attributes fetches the product attribute object for a tag id.
func (c *Client) Attributes(ctx context.Context, tagID string) (*Attributes, error) {
	url := c.base + "/api/socket/" + tagID
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	var attrs Attributes
	if err := json.Unmarshal(body, &attrs); err != nil {
		return nil, fmt.Errorf("enrich: decode attributes for %s: %w", tagID, err)
	}
	return &attrs, nil
}

// Image fetches the image reference for a print card. The catalog returns
// a base64 payload; an empty payload is treated as not found.
func (c *Client) Image(ctx context.Context, printCard string) (string, error) {
	url := c.base + "/api/Image/" + printCard
	body, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	var resp imageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("enrich: decode image for %s: %w", printCard, err)
	}
	if strings.TrimSpace(resp.ImageBase64) == "" {
		return "", fmt.Errorf("enrich: empty image for %s", printCard)
	}
	return resp.ImageBase64, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("enrich: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrich: %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("enrich: %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("enrich: read %s: %w", url, err)
	}
	return body, nil
}

// display returns the field value or the unavailable sentinel, matching
// how the station views render missing attributes.
func display(v flexString) string {
	if strings.TrimSpace(string(v)) == "" {
		return SentinelUnavailable
	}
	return string(v)
}
