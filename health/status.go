// Package health aggregates component health into the report served on /health.
package health

import (
	"regexp"
	"sort"
	"time"

	"github.com/c360/sftpstreams/component"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|sftp|ssh|s3)://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d+)?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|passphrase|token|secret|private_key)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health of a component or the whole process
type Status struct {
	Component   string        `json:"component"`
	Healthy     bool          `json:"healthy"`
	Status      string        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Uptime      time.Duration `json:"uptime,omitempty"`
	ErrorCount  int           `json:"error_count,omitempty"`
	SubStatuses []Status      `json:"sub_statuses,omitempty"`
}

// sanitizeErrorMessage strips URLs, addresses and credentials from error text
// before it is exposed over HTTP.
func sanitizeErrorMessage(err string) string {
	s := urlRegex.ReplaceAllString(err, "[URL]")
	s = ipAddrRegex.ReplaceAllString(s, "[IP]")
	return credentialRegex.ReplaceAllString(s, "[REDACTED]")
}

// FromComponentHealth converts a component.HealthStatus. A healthy component
// that has recorded errors is reported as degraded.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	st := Status{
		Component:  name,
		Healthy:    ch.Healthy,
		Timestamp:  time.Now(),
		Uptime:     ch.Uptime,
		ErrorCount: ch.ErrorCount,
	}
	switch {
	case !ch.Healthy:
		st.Status = StatusUnhealthy
	case ch.ErrorCount > 0:
		st.Status = StatusDegraded
	default:
		st.Status = StatusHealthy
	}
	if ch.LastError != "" {
		st.Message = sanitizeErrorMessage(ch.LastError)
	}
	return st
}

// Aggregate combines sub-statuses: any unhealthy makes the whole unhealthy,
// otherwise any degraded makes it degraded.
func Aggregate(name string, subs []Status) Status {
	sorted := make([]Status, len(subs))
	copy(sorted, subs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Component < sorted[j].Component })

	out := Status{Component: name, Healthy: true, Status: StatusHealthy, Timestamp: time.Now(), SubStatuses: sorted}
	for _, s := range sorted {
		switch s.Status {
		case StatusUnhealthy:
			out.Healthy = false
			out.Status = StatusUnhealthy
		case StatusDegraded:
			if out.Status == StatusHealthy {
				out.Status = StatusDegraded
			}
		}
	}
	return out
}
