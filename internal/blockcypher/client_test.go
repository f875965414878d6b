package blockcypher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateHook(t *testing.T) {
	var got Hook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/hooks" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("token") != "tok" {
			t.Errorf("token = %q, want tok", r.URL.Query().Get("token"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode hook: %v", err)
		}
		got.ID = "hook-42"
		_ = json.NewEncoder(w).Encode(got)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	id, err := c.CreateHook(context.Background(), "tb1qaddr", "https://example.com/cb")
	if err != nil {
		t.Fatalf("CreateHook() error: %v", err)
	}
	if id != "hook-42" {
		t.Errorf("id = %q, want hook-42", id)
	}
	if got.Event != "confirmed-tx" {
		t.Errorf("event = %q, want confirmed-tx", got.Event)
	}
	if got.Address != "tb1qaddr" || got.URL != "https://example.com/cb" {
		t.Errorf("hook = %+v", got)
	}
}

func TestCreateHookMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Hook{Event: "confirmed-tx"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	if _, err := c.CreateHook(context.Background(), "tb1qaddr", "https://example.com/cb"); err == nil {
		t.Error("CreateHook() succeeded without an id, want error")
	}
}

func TestDeleteHook(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	if err := c.DeleteHook(context.Background(), "hook-42"); err != nil {
		t.Fatalf("DeleteHook() error: %v", err)
	}
	if path != "/hooks/hook-42" {
		t.Errorf("path = %q, want /hooks/hook-42", path)
	}
}

func TestErrorStatusIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "address invalid"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	_, err := c.CreateHook(context.Background(), "bogus", "https://example.com/cb")
	if err == nil {
		t.Fatal("CreateHook() succeeded, want error")
	}
	if !strings.Contains(err.Error(), "address invalid") {
		t.Errorf("error %q does not include the response body", err)
	}
}

func TestNewTXSkeletonErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(TXSkeleton{
			Errors: []apiError{{Error: "not enough funds"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	_, err := c.NewTX(context.Background(), &TXSkeleton{})
	if err == nil {
		t.Fatal("NewTX() succeeded, want skeleton error")
	}
	if !strings.Contains(err.Error(), "not enough funds") {
		t.Errorf("error = %q", err)
	}
}

func TestHasToken(t *testing.T) {
	if NewClient("http://x", "", nil).HasToken() {
		t.Error("HasToken() = true for empty token")
	}
	if !NewClient("http://x", "tok", nil).HasToken() {
		t.Error("HasToken() = false for set token")
	}
}
