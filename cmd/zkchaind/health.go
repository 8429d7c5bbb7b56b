package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// errDegraded marks a check failure that leaves the participant usable.
var errDegraded = errors.New("degraded")

// ComponentHealth is the last check result of one component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall health of the participant.
type SystemHealth struct {
	Participant   string            `json:"participant"`
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// HealthChecker runs the registered component checks on demand.
type HealthChecker struct {
	mu          sync.Mutex
	participant string
	version     string
	startTime   time.Time
	components  map[string]*ComponentHealth
	checkers    map[string]func() error
}

func NewHealthChecker(participant, version string) *HealthChecker {
	return &HealthChecker{
		participant: participant,
		version:     version,
		startTime:   time.Now(),
		components:  make(map[string]*ComponentHealth),
		checkers:    make(map[string]func() error),
	}
}

// RegisterComponent registers a check. A check returning an error wrapping errDegraded marks
// the component degraded; any other error marks it unhealthy.
func (hc *HealthChecker) RegisterComponent(name string, check func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.components[name] = &ComponentHealth{Name: name, Status: Healthy, Message: "registered", LastCheck: time.Now()}
	hc.checkers[name] = check
}

// CheckHealth runs every check and returns the combined result.
func (hc *HealthChecker) CheckHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))
	for name, component := range hc.components {
		start := time.Now()
		err := hc.checkers[name]()
		component.Latency = time.Since(start)
		component.LastCheck = time.Now()
		switch {
		case err == nil:
			component.Status, component.Message = Healthy, "OK"
		case errors.Is(err, errDegraded):
			component.Status, component.Message = Degraded, err.Error()
		default:
			component.Status, component.Message = Unhealthy, err.Error()
		}

		if component.Status == Unhealthy {
			overall = Unhealthy
		} else if component.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, *component)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return &SystemHealth{
		Participant:   hc.participant,
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}

// ServeHTTP answers with the current health as JSON; unhealthy participants get 503.
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	health := hc.CheckHealth()
	w.Header().Set("Content-Type", "application/json")
	if health.OverallStatus == Unhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}
