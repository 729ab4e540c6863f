package domain

import "time"

// HealthStatus grades a dependency probe outcome.
type HealthStatus string

const (
	// HealthStatusOK means the dependency responded within its budget.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded means the dependency responded with an error.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError means the dependency timed out or was unreachable.
	HealthStatusError HealthStatus = "error"
)

// SystemHealthCheck is the result of probing a single dependency.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probe results for readiness.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	GeneratedAt time.Time
}
