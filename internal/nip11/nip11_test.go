package nip11

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigbrotr/bigbrotr/internal/httpclient"
)

func newTestClient(t *testing.T) *httpclient.Client {
	t.Helper()
	c, err := httpclient.New(httpclient.Config{})
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != acceptHeader {
			t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), acceptHeader)
		}
		w.Header().Set("Content-Type", acceptHeader)
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "test relay"})
	}))
	defer srv.Close()

	result := Fetch(context.Background(), newTestClient(t), srv.URL)
	if !result.Success {
		t.Fatalf("expected success, reason=%q", result.Reason)
	}
	if result.Info["name"] != "test relay" {
		t.Errorf("Info[name] = %v, want %q", result.Info["name"], "test relay")
	}
}

func TestFetchRejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	result := Fetch(context.Background(), newTestClient(t), srv.URL)
	if result.Success {
		t.Fatal("expected failure for wrong content type")
	}
	if result.Reason == "" {
		t.Fatal("expected non-empty reason on failure")
	}
}

func TestFetchRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	result := Fetch(context.Background(), newTestClient(t), srv.URL)
	if result.Success {
		t.Fatal("expected failure for 404")
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", acceptHeader)
		w.Write(make([]byte, 10))
	}))
	defer srv.Close()

	client, err := httpclient.New(httpclient.Config{MaxResponseSize: 5})
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}
	defer client.Close()

	result := Fetch(context.Background(), client, srv.URL)
	if result.Success {
		t.Fatal("expected failure for oversized body")
	}
}
