package alwaysproxy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type cacheListing struct {
	Len  int      `json:"len"`
	Keys []string `json:"keys"`
}

// AdminHandler returns the operator API: health, cache inspection and
// purging, the loaded blocklist and metrics from gatherer.
func (p *Proxy) AdminHandler(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(p.log))
	r.Use(hlog.RemoteAddrHandler("sourceIp"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin request")
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/cache", p.listCache)
	r.Delete("/cache", p.purgeCache)
	r.Get("/blocklist", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, p.blocklist.Hosts())
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (p *Proxy) listCache(w http.ResponseWriter, r *http.Request) {
	keys, err := p.cache.Keys()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not list cache keys")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, cacheListing{Len: len(keys), Keys: keys})
}

func (p *Proxy) purgeCache(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	if err := p.cache.Purge(key); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("key", key).Msg("Could not purge cache entry")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hlog.FromRequest(r).Info().Str("key", key).Msg("Purged cache entry")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response body to client")
	}
}
