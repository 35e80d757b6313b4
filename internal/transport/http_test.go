package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openlabels/sourcify-bridge/internal/tags"
)

func testLabel() Label {
	return Label{
		Address: "0x00000000000000000000000000000000000000Aa",
		ChainID: ChainID("eip155", 1),
		Tags: tags.Set{
			tags.TagSourceVerified: tags.SourceValue,
			tags.TagIsContract:     true,
		},
	}
}

func TestSubmitOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/labels" {
			t.Errorf("path = %s, want /labels", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("auth header = %q", got)
		}
		var label Label
		if err := json.NewDecoder(r.Body).Decode(&label); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if label.ChainID != "eip155:1" {
			t.Errorf("chain id = %q, want eip155:1", label.ChainID)
		}
		json.NewEncoder(w).Encode(map[string]string{"ref": "abc123"})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, APIKey: "secret"})
	ref, err := c.SubmitOne(context.Background(), testLabel())
	if err != nil {
		t.Fatalf("SubmitOne: %v", err)
	}
	if ref != "abc123" {
		t.Errorf("ref = %q, want abc123", ref)
	}
}

func TestSubmitManyAtomic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/labels/batch" {
			t.Errorf("path = %s, want /labels/batch", r.URL.Path)
		}
		var payload struct {
			Labels []Label `json:"labels"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(payload.Labels) != 3 {
			t.Errorf("labels = %d, want 3", len(payload.Labels))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tx_hash": "0xfeed",
			"refs":    []string{"a", "b", "c"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	txHash, refs, err := c.SubmitMany(context.Background(), []Label{testLabel(), testLabel(), testLabel()})
	if err != nil {
		t.Fatalf("SubmitMany: %v", err)
	}
	if txHash != "0xfeed" || len(refs) != 3 {
		t.Errorf("txHash = %q refs = %v", txHash, refs)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	_, err := c.SubmitOne(context.Background(), testLabel())
	if err == nil {
		t.Fatal("SubmitOne succeeded against a 429")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want status code included", err)
	}
}

func TestValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/labels/validate" {
			t.Errorf("path = %s, want /labels/validate", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"valid": false, "reason": "bad tag"})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	ok, err := c.Validate(context.Background(), testLabel())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Error("Validate = true, want false")
	}
}
