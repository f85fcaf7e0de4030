package alwaysproxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/always-cache/always-proxy/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func newAdminTestProxy(t *testing.T) (*Proxy, *cache.ExpiringLRU, http.Handler) {
	t.Helper()
	registry := prometheus.NewRegistry()
	lru, err := cache.NewExpiringLRU(10, 1)
	if err != nil {
		t.Fatal(err)
	}
	logger := zerolog.New(zerolog.NewTestWriter(t))
	p, err := CreateProxy(Config{
		Cache:      lru,
		Blocklist:  NewBlocklist("b.example", "a.example"),
		Logger:     &logger,
		Registerer: registry,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p, lru, p.AdminHandler(registry)
}

func TestAdminHealth(t *testing.T) {
	_, _, handler := newAdminTestProxy(t)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("status %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestAdminListAndPurgeCache(t *testing.T) {
	_, lru, handler := newAdminTestProxy(t)
	lru.Put("http://example.com/a", []byte("a"))
	lru.Put("http://example.com/b", []byte("b"))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/cache", nil))
	var listing cacheListing
	if err := json.NewDecoder(rr.Body).Decode(&listing); err != nil {
		t.Fatal(err)
	}
	if listing.Len != 2 || listing.Keys[0] != "http://example.com/b" {
		t.Fatalf("listing is %+v", listing)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("DELETE", "/cache?key=http%3A%2F%2Fexample.com%2Fa", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("purge status is %d", rr.Code)
	}
	if lru.Len() != 1 {
		t.Fatalf("cache has %d entries", lru.Len())
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("DELETE", "/cache", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("purge without key status is %d", rr.Code)
	}
}

func TestAdminBlocklist(t *testing.T) {
	_, _, handler := newAdminTestProxy(t)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/blocklist", nil))
	var hosts []string
	if err := json.NewDecoder(rr.Body).Decode(&hosts); err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 2 || hosts[0] != "a.example" {
		t.Fatalf("hosts are %v", hosts)
	}
}

func TestAdminMetrics(t *testing.T) {
	p, _, handler := newAdminTestProxy(t)
	roundTrip(t, p, get("http://b.example/"))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `always_proxy_requests_total{outcome="blocked"} 1`) {
		t.Fatalf("metrics are %s", rr.Body.String())
	}
}
