package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Health and readiness status values
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// DefaultCriticalComponents must be healthy before the process reports ready
var DefaultCriticalComponents = []string{"bus", "gc", "arbitrator"}

// HealthStatus is the body of /health and /ready
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth is the last report of one bus participant
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker holds component reports for the probe handlers
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	started    time.Time
	version    string
}

var healthChecker = newHealthChecker()

func newHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		critical:   append([]string(nil), DefaultCriticalComponents...),
		started:    time.Now(),
	}
}

// ResetHealth drops every report and restores the default critical set
func ResetHealth() {
	healthChecker = newHealthChecker()
}

// SetVersion sets the version reported by the probes
func SetVersion(version string) {
	healthChecker.mu.Lock()
	healthChecker.version = version
	healthChecker.mu.Unlock()
}

// SetCriticalComponents replaces the components readiness waits for
func SetCriticalComponents(names ...string) {
	healthChecker.mu.Lock()
	healthChecker.critical = append([]string(nil), names...)
	healthChecker.mu.Unlock()
}

// UpdateComponent records a report, registering the component on first use
func UpdateComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
	healthChecker.mu.Unlock()
}

// status builds a response with the shared fields filled in. Callers hold
// at least the read lock.
func (h *HealthChecker) status(s string, components map[string]string, message string) HealthStatus {
	return HealthStatus{
		Status:     s,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
	}
}

// GetHealth is unhealthy when any reported component is
func GetHealth() HealthStatus {
	h := healthChecker
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := StatusHealthy
	components := make(map[string]string, len(h.components))
	for name, c := range h.components {
		if c.Healthy {
			components[name] = StatusHealthy
			continue
		}
		overall = StatusUnhealthy
		components[name] = StatusUnhealthy + ": " + c.Message
	}
	return h.status(overall, components, "")
}

// GetReadiness is ready once every critical component has reported healthy
func GetReadiness() HealthStatus {
	h := healthChecker
	h.mu.RLock()
	defer h.mu.RUnlock()

	var waiting []string
	components := make(map[string]string, len(h.critical))
	for _, name := range h.critical {
		c, ok := h.components[name]
		switch {
		case !ok:
			components[name] = "not registered"
		case !c.Healthy:
			components[name] = "not ready: " + c.Message
		default:
			components[name] = StatusReady
			continue
		}
		waiting = append(waiting, name)
	}

	if len(waiting) == 0 {
		return h.status(StatusReady, components, "")
	}
	sort.Strings(waiting)
	return h.status(StatusNotReady, components, "waiting for "+waiting[0])
}

// HealthHandler serves /health
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := GetHealth()
		code := http.StatusOK
		if s.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, s)
	}
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := GetReadiness()
		code := http.StatusOK
		if s.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, s)
	}
}

// LivenessHandler serves /live; it answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthChecker.mu.RLock()
		uptime := time.Since(healthChecker.started).Round(time.Second).String()
		healthChecker.mu.RUnlock()
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive", "uptime": uptime})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
