package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"feedbot/internal/database"
)

type healthResult struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := healthResult{Status: "healthy", Service: s.cfg.App.Name}
	code := http.StatusOK
	if err := database.HealthCheck(r.Context(), s.db); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		result.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(result)
}
