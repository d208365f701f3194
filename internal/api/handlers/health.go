package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/bank-ledger/internal/api/middleware"
)

// Version is reported by the health endpoint. Set with -ldflags at build time.
var Version = "dev"

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": Version,
	})
}
