package dashboard

import (
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dan-v/launchable/internal/manager"
	"github.com/dan-v/launchable/internal/metrics"
)

// SessionSource exposes the serving session, if any. *manager.Manager implements it.
type SessionSource interface {
	Current() *manager.Session
}

// SessionInfo describes the serving session for the status page
type SessionInfo struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	URL       string    `json:"url"`
	JobID     int       `json:"job_id"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

// StatusData is the main data structure sent to the frontend
type StatusData struct {
	// Launch overview
	Uptime      string `json:"uptime"`
	LaunchState string `json:"launch_state"`
	Status      string `json:"status"` // launching, serving, stopped

	// Serving session, nil until AOK
	Session *SessionInfo `json:"session,omitempty"`

	// Remote shell statistics
	BarriersReached  int64   `json:"barriers_reached"`
	BarrierLatencyMs float64 `json:"barrier_latency_ms"`
	BytesReceived    string  `json:"bytes_received"`

	// Local forward statistics
	ForwardConnections int64  `json:"forward_connections"`
	ActiveForwards     int64  `json:"active_forwards"`
	ForwardBytes       string `json:"forward_bytes"`

	// Recent remote output
	Output []OutputLine `json:"output"`

	// System metrics
	SystemMetrics struct {
		Goroutines int    `json:"goroutines"`
		Memory     string `json:"memory"`
	} `json:"system_metrics"`
}

// StatusCollector aggregates data from the manager, metrics and output tail
type StatusCollector struct {
	sessions  SessionSource
	tail      *OutputTail
	startTime time.Time
}

// NewStatusCollector creates a new status collector. Either source may be nil.
func NewStatusCollector(sessions SessionSource, tail *OutputTail) *StatusCollector {
	return &StatusCollector{
		sessions:  sessions,
		tail:      tail,
		startTime: time.Now(),
	}
}

// Collect gathers a snapshot of the launch and session state
func (sc *StatusCollector) Collect() *StatusData {
	data := &StatusData{}

	data.Uptime = time.Since(sc.startTime).Truncate(time.Second).String()
	data.LaunchState = metrics.GetLaunchState()
	data.Session = sc.collectSessionInfo()
	data.Status = sc.getStatus(data)

	data.BarriersReached = metrics.GetBarriersReached()
	data.BarrierLatencyMs = float64(metrics.GetLastBarrierLatency().Milliseconds())
	data.BytesReceived = humanize.Bytes(uint64(metrics.GetBytesReceived()))

	data.ForwardConnections = metrics.GetForwardConnections()
	data.ActiveForwards = metrics.GetActiveForwards()
	data.ForwardBytes = humanize.Bytes(uint64(metrics.GetForwardBytes()))

	if sc.tail != nil {
		data.Output = sc.tail.Lines()
	}

	sc.collectSystemMetrics(data)

	return data
}

func (sc *StatusCollector) collectSessionInfo() *SessionInfo {
	if sc.sessions == nil {
		return nil
	}
	s := sc.sessions.Current()
	if s == nil {
		return nil
	}
	return &SessionInfo{
		ID:        s.ID,
		Host:      s.Host,
		URL:       s.URL,
		JobID:     s.JobID(),
		StartedAt: s.StartedAt,
		Uptime:    s.Uptime().Truncate(time.Second).String(),
	}
}

// getStatus condenses the launch state into what the page headline shows
func (sc *StatusCollector) getStatus(data *StatusData) string {
	switch data.LaunchState {
	case "Succeeded":
		if data.Session != nil {
			return "serving"
		}
		return "stopped"
	case "Failed", "TimedOut":
		return "stopped"
	default:
		return "launching"
	}
}

func (sc *StatusCollector) collectSystemMetrics(data *StatusData) {
	metrics.UpdateSystemMetrics()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	data.SystemMetrics.Goroutines = runtime.NumGoroutine()
	data.SystemMetrics.Memory = humanize.Bytes(m.Alloc)
}
