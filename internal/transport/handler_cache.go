package transport

import (
	"net/http"

	"github.com/swiftcheck/qcflow/internal/observability"
	"github.com/swiftcheck/qcflow/internal/respcache"
	"github.com/swiftcheck/qcflow/model"
)

func handleCacheStats(cache respcache.Cache, prefix string, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cache.Stats(r.Context(), prefix)
		if err != nil {
			WriteError(w, model.NewBackendUnavailableError("cache unavailable"))
			return
		}
		if metrics != nil {
			metrics.SetResponseCacheEntries(float64(stats.EntryCount))
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

func handleCacheClear(cache respcache.Cache, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := cache.ClearByPrefix(r.Context(), prefix)
		if err != nil {
			WriteError(w, model.NewBackendUnavailableError("cache unavailable"))
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"cleared": removed})
	}
}
