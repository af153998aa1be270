package serper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  SearchRequest
		want string
	}{
		{"plain", SearchRequest{Query: `"Acme" fraud`}, `"Acme" fraud`},
		{"one site", SearchRequest{Query: "Acme", Sites: []string{"sec.gov"}}, "Acme site:sec.gov"},
		{"many sites", SearchRequest{Query: "Acme", Sites: []string{"treasury.gov", "un.org"}},
			"Acme (site:treasury.gov OR site:un.org)"},
		{"after", SearchRequest{Query: "Acme", After: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)},
			"Acme after:2025-03-09"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, BuildQuery(tt.req))
		})
	}
}

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Acme site:sec.gov", body["q"])
		assert.EqualValues(t, 10, body["num"])

		_, _ = w.Write([]byte(`{
			"organic": [{"title": "Acme 10-K", "link": "https://sec.gov/acme-10k", "snippet": "Annual report"}],
			"news": [{"title": "Acme fined", "link": "https://news.example/acme", "snippet": "Regulator fines Acme", "date": "2 days ago"}]
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.Search(context.Background(), SearchRequest{Query: "Acme", Num: 10, Sites: []string{"sec.gov"}})
	require.NoError(t, err)
	require.Len(t, resp.Organic, 1)
	require.Len(t, resp.News, 1)
	assert.Equal(t, "https://sec.gov/acme-10k", resp.Organic[0].Link)
	assert.Equal(t, "2 days ago", resp.News[0].Date)
}

func TestSearch_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), SearchRequest{Query: "Acme"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "serper: unexpected status 429")
}

func TestSearch_BadJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), SearchRequest{Query: "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serper: unmarshal response")
}
