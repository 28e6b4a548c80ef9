package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSearchUnconfiguredMakesNoNetworkCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient("", time.Second, zap.NewNop())
	if got := c.Search(context.Background(), "anything", 3); got != nil {
		t.Fatalf("expected nil sources, got %v", got)
	}
	if calls.Load() != 0 {
		t.Fatalf("unconfigured client hit the network")
	}
}

func TestSearchNormalizesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "go concurrency" {
			t.Errorf("query = %q", q)
		}
		_, _ = w.Write([]byte(`{"results":[
			{"title":"A","url":"https://a.example","snippet":"first"},
			{"title":"","url":"","snippet":""},
			{"title":"B","url":"https://b.example","content":"from content field"},
			{"title":"C","url":"https://c.example","snippet":"third"},
			{"title":"D","url":"https://d.example","snippet":"fourth"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	got := c.Search(context.Background(), "go concurrency", 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "S1" || got[1].ID != "S2" || got[2].ID != "S3" {
		t.Fatalf("ids = %v %v %v", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[1].Snippet != "from content field" {
		t.Fatalf("content fallback missing: %+v", got[1])
	}
	if got[2].Title != "C" {
		t.Fatalf("empty entry should have been dropped, got %+v", got[2])
	}
}

func TestSearchSwallowsBackendFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-OK", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed JSON", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(tc.handler)
		c := NewClient(srv.URL, 100*time.Millisecond, zap.NewNop())
		if got := c.Search(context.Background(), "q", 3); len(got) != 0 {
			t.Fatalf("%s: expected zero sources, got %v", tc.name, got)
		}
		srv.Close()
	}
}

func TestSearchAcceptsBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"title":"A","url":"https://a.example","snippet":"s"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	got := c.Search(context.Background(), "q", 5)
	if len(got) != 1 || got[0].ID != "S1" {
		t.Fatalf("got %v", got)
	}
}
