package operator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolveReturnsName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/OperadoresRFID/000000000134" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id": 7, "claveOperador": "OP-7", "nombreOperador": "Maria Lopez", "rfiD_Operador": "000000000134"}`))
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, time.Second)
	if got := r.Resolve(context.Background(), "000000000134"); got != "Maria Lopez" {
		t.Fatalf("expected operator name, got %q", got)
	}
}

func TestResolveSentinelsStayDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	r := NewResolver(srv.URL, time.Second)

	if got := r.Resolve(context.Background(), ""); got != SentinelNoOperator {
		t.Fatalf("empty badge: expected %q, got %q", SentinelNoOperator, got)
	}
	if got := r.Resolve(context.Background(), "badge"); got != SentinelNotFound {
		t.Fatalf("not found: expected %q, got %q", SentinelNotFound, got)
	}

	dead := NewResolver("http://127.0.0.1:1", 200*time.Millisecond)
	if got := dead.Resolve(context.Background(), "badge"); got != SentinelLookupFailed {
		t.Fatalf("transport failure: expected %q, got %q", SentinelLookupFailed, got)
	}

	if SentinelNotFound == SentinelLookupFailed {
		t.Fatalf("sentinels must remain distinguishable")
	}
}

func TestResolveEmptyNameIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"nombreOperador": "  "}`))
	}))
	defer srv.Close()
	r := NewResolver(srv.URL, time.Second)
	if got := r.Resolve(context.Background(), "badge"); got != SentinelNotFound {
		t.Fatalf("blank name: expected %q, got %q", SentinelNotFound, got)
	}
}
