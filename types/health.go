package types

import "time"

// HealthStatus is the coarse availability signal for a dependency.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// HealthResponse aggregates dependency probes. The overall status is
// healthy only when every dependency is, and unhealthy as soon as any is.
type HealthResponse struct {
	Status     HealthStatus `json:"status"`
	Database   HealthStatus `json:"database"`
	Blockchain HealthStatus `json:"blockchain"`
	Timestamp  time.Time    `json:"timestamp"`
	Version    string       `json:"version"`
}

// NewHealthResponse combines dependency statuses into an overall verdict.
func NewHealthResponse(database, blockchain HealthStatus, version string) *HealthResponse {
	status := Degraded
	switch {
	case database == Healthy && blockchain == Healthy:
		status = Healthy
	case database == Unhealthy || blockchain == Unhealthy:
		status = Unhealthy
	}
	return &HealthResponse{
		Status:     status,
		Database:   database,
		Blockchain: blockchain,
		Timestamp:  time.Now().UTC(),
		Version:    version,
	}
}
