package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// 访问/debug/pprof/进入pprof实时分析页面，/healthz返回当前网络概况
func newDebugHandler(server *AccessibilityServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/debug", middleware.Profiler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		store := server.Router().Store()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"dataset": store.Dataset(),
			"version": store.Version(),
			"stats":   store.Stats(),
		})
	})
	return r
}

func startHTTPDebugger(addr string, server *AccessibilityServer) {
	s := &http.Server{Addr: addr, Handler: newDebugHandler(server)}
	go func() {
		log.Infof("debug server listening at %v", addr)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("debug server: %v", err)
		}
	}()
}
