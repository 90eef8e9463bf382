// Package operator resolves an operator badge EPC to a display name.
// Lookups run alongside product enrichment and never block the main flow;
// the three failure modes stay distinguishable through distinct sentinel
// names so the display can tell "nobody badged in" from "lookup broke".
package operator

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Display sentinels, matching what the station views render.
const (
	SentinelNoOperator   = "Sin operador asociado"     // event carried no badge EPC
	SentinelNotFound     = "Operador no encontrado"    // registry does not know the badge
	SentinelLookupFailed = "Error al obtener operador" // transport failure or timeout
)

type wireOperator struct {
	ID       int64  `json:"id"`
	Code     string `json:"claveOperador"`
	Name     string `json:"nombreOperador"`
	BadgeEPC string `json:"rfiD_Operador"`
}

// Resolver looks up operators against the registry.
type Resolver struct {
	base string
	http *http.Client
}

// NewResolver creates an operator resolver bounded by timeout.
func NewResolver(base string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Resolve maps a badge EPC to an operator name or one of the sentinels.
// It never returns an error; the sentinel carries the failure class.
func (r *Resolver) Resolve(ctx context.Context, badgeEPC string) string {
	badgeEPC = strings.TrimSpace(badgeEPC)
	if badgeEPC == "" {
		return SentinelNoOperator
	}
	url := r.base + "/api/OperadoresRFID/" + badgeEPC
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return SentinelLookupFailed
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return SentinelLookupFailed
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SentinelNotFound
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SentinelLookupFailed
	}
	var op wireOperator
	if err := json.Unmarshal(body, &op); err != nil {
		return SentinelLookupFailed
	}
	name := strings.TrimSpace(op.Name)
	if name == "" {
		return SentinelNotFound
	}
	return name
}
