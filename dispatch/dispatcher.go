// Package dispatch fires the three downstream side effects for a newly
// inserted record: the lifecycle status update, the authoritative movement
// registration, and the best-effort antenna audit entry. The calls are
// independent; none rolls back another on failure, and every call is
// bounded by the registry timeout.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MovementStatus classifies the movement registration outcome.
type MovementStatus int

const (
	MovementOK         MovementStatus = iota // registered, assigned id returned
	MovementConflict                         // 400: already registered; warning, not an error
	MovementUnknownTag                       // 404: registry does not know the tag
	MovementFailed                           // transport error or unexpected status
	MovementSkipped                          // not attempted: no numeric record id
)

// MovementOutcome is the full result of one registration attempt.
type MovementOutcome struct {
	Status     MovementStatus
	AssignedID int64  // registry id when Status is MovementOK
	Message    string // registry-provided detail, e.g. the conflict message
}

// MovementRequest carries the station-parametrized registration payload.
type MovementRequest struct {
	RecordID       int64     // numeric identity in the system of record
	Path           string    // endpoint segment, e.g. "EntradaAlmacen"
	Location       string    // warehouse location code
	TimestampField string    // body field name, "fechaEntrada" or "fechaSalida"
	Antenna        string    // antenna that performed the read
	When           time.Time // movement timestamp
}

type statusBody struct {
	Status int `json:"status"`
}

type movementResponse struct {
	AssignedID int64  `json:"prodEtiquetaRFIDId"`
	Message    string `json:"message"`
}

// Dispatcher is the HTTP client for the system-of-record registry.
type Dispatcher struct {
	base string
	http *http.Client
}

// NewDispatcher creates a dispatcher bounded by timeout.
func NewDispatcher(base string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// UpdateStatus marks the tag's lifecycle status. Non-2xx and transport
// failures are soft: the error is reported for the record's outcome flag
// and nothing is retried.
func (d *Dispatcher) UpdateStatus(ctx context.Context, tagID string, status int) error {
	body, err := json.Marshal(statusBody{Status: status})
	if err != nil {
		return fmt.Errorf("dispatch: encode status: %w", err)
	}
	endpoint := d.base + "/api/RfidLabel/UpdateStatusByRFID/" + tagID
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dispatch: build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: status update for %s: %w", tagID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dispatch: status update for %s: status %d", tagID, resp.StatusCode)
	}
	return nil
}

// RegisterMovement posts the authoritative movement record. A 400 means
// the unit was already registered upstream and surfaces as a conflict
// warning; a 404 means the tag identity is unknown to the registry.
// Neither is retried.
func (d *Dispatcher) RegisterMovement(ctx context.Context, mr MovementRequest) MovementOutcome {
	if mr.RecordID == 0 {
		return MovementOutcome{Status: MovementSkipped, Message: "no record id available"}
	}
	payload := map[string]any{
		"prodEtiquetaRFIDId": mr.RecordID,
		"ubicacion":          mr.Location,
		"antena":             mr.Antenna,
	}
	field := mr.TimestampField
	if field == "" {
		field = "fechaEntrada"
	}
	when := mr.When
	if when.IsZero() {
		when = time.Now().UTC()
	}
	payload[field] = when.Format(time.RFC3339)

	body, err := json.Marshal(payload)
	if err != nil {
		return MovementOutcome{Status: MovementFailed, Message: err.Error()}
	}
	endpoint := d.base + "/api/ProdExtraInfo/" + strings.Trim(mr.Path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return MovementOutcome{Status: MovementFailed, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.http.Do(req)
	if err != nil {
		return MovementOutcome{Status: MovementFailed, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var decoded movementResponse
	_ = json.Unmarshal(raw, &decoded)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return MovementOutcome{Status: MovementOK, AssignedID: decoded.AssignedID, Message: decoded.Message}
	case resp.StatusCode == http.StatusBadRequest:
		msg := decoded.Message
		if msg == "" {
			msg = "already registered"
		}
		return MovementOutcome{Status: MovementConflict, Message: msg}
	case resp.StatusCode == http.StatusNotFound:
		return MovementOutcome{Status: MovementUnknownTag, Message: decoded.Message}
	default:
		return MovementOutcome{Status: MovementFailed, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
}

// RegisterAntennaEvent posts the audit trail entry linking the read to the
// acting operator. Best-effort: the caller only logs failures.
func (d *Dispatcher) RegisterAntennaEvent(ctx context.Context, tagID, operatorBadge string) error {
	q := url.Values{}
	q.Set("epcOperador", operatorBadge)
	q.Set("epc", tagID)
	endpoint := d.base + "/api/ProdRegistroAntenas?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		return fmt.Errorf("dispatch: build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: antenna audit for %s: %w", tagID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dispatch: antenna audit for %s: status %d", tagID, resp.StatusCode)
	}
	return nil
}
