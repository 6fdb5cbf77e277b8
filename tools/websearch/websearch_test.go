package websearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rfvalente/morada/models"
)

func testClient(url string) *Client {
	return New(Config{
		APIKey:      "tool-key",
		BaseURL:     url,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  4 * time.Millisecond,
	}, nil)
}

func TestSearchDecodesHits(t *testing.T) {
	t.Parallel()
	var gotTool string
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req toolRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotTool = req.Tool
		gotQuery, _ = req.Arguments["query"].(string)
		io.WriteString(w, `{"results":[
			{"title":"T2 em Faro","url":"https://www.idealista.pt/imovel/1","snippet":"900€/mês","display_url":"idealista.pt"},
			{"title":"sem url","url":"","snippet":"ignorado"},
			{"title":"T2 Faro centro","url":"https://www.olx.pt/d/2","snippet":"850€"}
		]}`)
	}))
	defer srv.Close()

	hits, err := testClient(srv.URL).Search(context.Background(), "T2 Faro", "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotTool != "search_engine" {
		t.Fatalf("tool = %q", gotTool)
	}
	if gotQuery != "T2 Faro" {
		t.Fatalf("query = %q", gotQuery)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2 (empty url dropped)", len(hits))
	}
	if hits[0].URL != "https://www.idealista.pt/imovel/1" {
		t.Fatalf("first hit url = %q", hits[0].URL)
	}
}

func TestScrapeMarkdown(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req toolRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Tool != "scrape_as_markdown" {
			t.Errorf("tool = %q", req.Tool)
		}
		io.WriteString(w, `{"markdown":"# T2 em Faro\n900€/mês"}`)
	}))
	defer srv.Close()

	md, err := testClient(srv.URL).ScrapeMarkdown(context.Background(), "https://www.idealista.pt/imovel/1")
	if err != nil {
		t.Fatalf("ScrapeMarkdown: %v", err)
	}
	if md == "" || md[0] != '#' {
		t.Fatalf("markdown = %q", md)
	}
}

func TestRateLimitRetried(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"results":[]}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Search(context.Background(), "q", "google")
	if err != nil {
		t.Fatalf("Search after retries: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("server saw %d calls, want 3", n)
	}
}

func TestAuthFailureSurfacesImmediately(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Search(context.Background(), "q", "google")
	if models.KindOf(err) != models.KindUpstreamAuth {
		t.Fatalf("kind = %v, want upstream_auth", models.KindOf(err))
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("server saw %d calls, want 1", n)
	}
}

func TestFatalStatusNotRetried(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ScrapeMarkdown(context.Background(), "https://example.com")
	if models.KindOf(err) != models.KindUpstreamFatal {
		t.Fatalf("kind = %v, want upstream_fatal", models.KindOf(err))
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("server saw %d calls, want 1", n)
	}
}

func TestMissingKeyIsConfiguration(t *testing.T) {
	t.Parallel()
	c := New(Config{BaseURL: "http://127.0.0.1:0"}, nil)
	_, err := c.Search(context.Background(), "q", "google")
	if models.KindOf(err) != models.KindConfiguration {
		t.Fatalf("kind = %v, want configuration", models.KindOf(err))
	}
}

func TestEmptyScrapeIsFatal(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"markdown":"  "}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ScrapeMarkdown(context.Background(), "https://example.com")
	if models.KindOf(err) != models.KindUpstreamFatal {
		t.Fatalf("kind = %v, want upstream_fatal", models.KindOf(err))
	}
}
