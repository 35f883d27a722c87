package metrics

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// Launch Metrics
	launchAttempts  = expvar.NewInt("launch_attempts")
	launchSuccesses = expvar.NewInt("launch_successes")
	launchFailures  = expvar.NewInt("launch_failures")
	launchTimeouts  = expvar.NewInt("launch_timeouts")
	launchState     = expvar.NewString("launch_state")
	lastJobID       = expvar.NewInt("last_job_id")
	launchDuration  = expvar.NewFloat("launch_duration_ms")

	// Session Metrics
	barriersReached  = expvar.NewInt("session_barriers_reached")
	barrierLatencyMs = expvar.NewFloat("session_barrier_latency_ms")
	statusWaitMs     = expvar.NewFloat("session_status_wait_ms")
	bytesReceived    = expvar.NewInt("session_bytes_received")
	sessionOpen      = expvar.NewInt("session_open")

	// Forward Metrics
	forwardConnections = expvar.NewInt("forward_connections_total")
	forwardActiveConns = expvar.NewInt("forward_active_connections")
	forwardFailedConns = expvar.NewInt("forward_failed_connections")
	forwardBytes       = expvar.NewInt("forward_bytes_transferred")

	// System Metrics
	systemGoroutines  = expvar.NewInt("system_goroutines")
	systemMemoryAlloc = expvar.NewInt("system_memory_alloc_bytes")
	systemMemoryTotal = expvar.NewInt("system_memory_total_bytes")
	systemMemorySys   = expvar.NewInt("system_memory_sys_bytes")
	systemGCPauses    = expvar.NewFloat("system_gc_pause_ns")

	// Internal tracking
	barrierMutex sync.RWMutex
	lastBarrier  time.Duration

	// Atomic counters for high-frequency updates
	bytesTransferredAtomic int64
	connectionsAtomic      int64

	publishOnce sync.Once

	// Start time for uptime calculation
	startTime = time.Now()
)

// Launch Metrics Functions
func RecordLaunchAttempt() {
	launchAttempts.Add(1)
}

func RecordLaunchSuccess(elapsed time.Duration) {
	launchSuccesses.Add(1)
	launchDuration.Set(float64(elapsed.Milliseconds()))
}

func RecordLaunchFailure() {
	launchFailures.Add(1)
}

func RecordLaunchTimeout() {
	launchTimeouts.Add(1)
}

// SetLaunchState publishes the orchestrator's current state name
func SetLaunchState(state string) {
	launchState.Set(state)
}

func GetLaunchState() string {
	return launchState.Value()
}

func SetLastJobID(id int) {
	lastJobID.Set(int64(id))
}

// Session Metrics Functions
func RecordBarrier(latency time.Duration) {
	barrierMutex.Lock()
	defer barrierMutex.Unlock()

	lastBarrier = latency
	barrierLatencyMs.Set(float64(latency.Milliseconds()))
	barriersReached.Add(1)
}

func GetLastBarrierLatency() time.Duration {
	barrierMutex.RLock()
	defer barrierMutex.RUnlock()
	return lastBarrier
}

func GetBarriersReached() int64 {
	return barriersReached.Value()
}

func RecordStatusWait(wait time.Duration) {
	statusWaitMs.Set(float64(wait.Milliseconds()))
}

func RecordBytesReceived(bytes int64) {
	bytesReceived.Add(bytes)
}

func SetSessionOpen(open bool) {
	if open {
		sessionOpen.Set(1)
	} else {
		sessionOpen.Set(0)
	}
}

// Forward Metrics Functions
func RecordForwardConnection() {
	forwardConnections.Add(1)
	atomic.AddInt64(&connectionsAtomic, 1)
}

func IncrementActiveForwards() {
	forwardActiveConns.Add(1)
}

func DecrementActiveForwards() {
	forwardActiveConns.Add(-1)
}

func RecordForwardFailure() {
	forwardFailedConns.Add(1)
}

func RecordForwardBytes(bytes int64) {
	forwardBytes.Add(bytes)
	atomic.AddInt64(&bytesTransferredAtomic, bytes)
}

func GetForwardBytes() int64 {
	return atomic.LoadInt64(&bytesTransferredAtomic)
}

func GetForwardConnections() int64 {
	return atomic.LoadInt64(&connectionsAtomic)
}

func GetActiveForwards() int64 {
	return forwardActiveConns.Value()
}

func GetBytesReceived() int64 {
	return bytesReceived.Value()
}

// System Metrics Functions
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	systemGoroutines.Set(int64(runtime.NumGoroutine()))
	systemMemoryAlloc.Set(int64(m.Alloc))
	systemMemoryTotal.Set(int64(m.TotalAlloc))
	systemMemorySys.Set(int64(m.Sys))

	if len(m.PauseNs) > 0 {
		systemGCPauses.Set(float64(m.PauseNs[(m.NumGC+255)%256]))
	}
}

// Metrics Server Functions

// StartMetricsServer serves /metrics and /debug/vars on addr until ctx is done
func StartMetricsServer(ctx context.Context, addr string) error {
	publishOnce.Do(func() {
		expvar.Publish("uptime_seconds", expvar.Func(func() interface{} {
			return time.Since(startTime).Seconds()
		}))

		expvar.Publish("total_connections", expvar.Func(func() interface{} {
			return atomic.LoadInt64(&connectionsAtomic)
		}))

		expvar.Publish("total_bytes_transferred", expvar.Func(func() interface{} {
			return atomic.LoadInt64(&bytesTransferredAtomic)
		}))
	})

	// Start system metrics update routine
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				UpdateSystemMetrics()
			}
		}
	}()

	server := &http.Server{
		Addr:    addr,
		Handler: NewMux(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewMux returns the metrics routes
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", http.HandlerFunc(metricsHandler))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

// Custom metrics handler that provides Prometheus-compatible output
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	fmt.Fprintf(w, "# HELP launch_attempts_total Total number of launch attempts\n")
	fmt.Fprintf(w, "# TYPE launch_attempts_total counter\n")
	fmt.Fprintf(w, "launch_attempts_total %v\n", launchAttempts.Value())

	fmt.Fprintf(w, "# HELP launch_successes_total Launches that reached AOK\n")
	fmt.Fprintf(w, "# TYPE launch_successes_total counter\n")
	fmt.Fprintf(w, "launch_successes_total %v\n", launchSuccesses.Value())

	fmt.Fprintf(w, "# HELP launch_failures_total Launches that failed or lost the transport\n")
	fmt.Fprintf(w, "# TYPE launch_failures_total counter\n")
	fmt.Fprintf(w, "launch_failures_total %v\n", launchFailures.Value())

	fmt.Fprintf(w, "# HELP launch_timeouts_total Launches that never reported a status\n")
	fmt.Fprintf(w, "# TYPE launch_timeouts_total counter\n")
	fmt.Fprintf(w, "launch_timeouts_total %v\n", launchTimeouts.Value())

	fmt.Fprintf(w, "# HELP launch_duration_ms Time from connect to AOK in milliseconds\n")
	fmt.Fprintf(w, "# TYPE launch_duration_ms gauge\n")
	fmt.Fprintf(w, "launch_duration_ms %v\n", launchDuration.Value())

	fmt.Fprintf(w, "# HELP last_job_id Most recent scheduler job id\n")
	fmt.Fprintf(w, "# TYPE last_job_id gauge\n")
	fmt.Fprintf(w, "last_job_id %v\n", lastJobID.Value())

	fmt.Fprintf(w, "# HELP session_open Whether the remote shell session is open (1) or not (0)\n")
	fmt.Fprintf(w, "# TYPE session_open gauge\n")
	fmt.Fprintf(w, "session_open %v\n", sessionOpen.Value())

	fmt.Fprintf(w, "# HELP session_barriers_reached_total Sync barriers observed\n")
	fmt.Fprintf(w, "# TYPE session_barriers_reached_total counter\n")
	fmt.Fprintf(w, "session_barriers_reached_total %v\n", barriersReached.Value())

	fmt.Fprintf(w, "# HELP session_barrier_latency_ms Latency of the last sync barrier\n")
	fmt.Fprintf(w, "# TYPE session_barrier_latency_ms gauge\n")
	fmt.Fprintf(w, "session_barrier_latency_ms %v\n", barrierLatencyMs.Value())

	fmt.Fprintf(w, "# HELP session_status_wait_ms Time spent waiting for AOK or FAILED\n")
	fmt.Fprintf(w, "# TYPE session_status_wait_ms gauge\n")
	fmt.Fprintf(w, "session_status_wait_ms %v\n", statusWaitMs.Value())

	fmt.Fprintf(w, "# HELP session_bytes_received_total Bytes read from the remote shell\n")
	fmt.Fprintf(w, "# TYPE session_bytes_received_total counter\n")
	fmt.Fprintf(w, "session_bytes_received_total %v\n", bytesReceived.Value())

	fmt.Fprintf(w, "# HELP forward_connections_total Browser connections forwarded to the tunnel port\n")
	fmt.Fprintf(w, "# TYPE forward_connections_total counter\n")
	fmt.Fprintf(w, "forward_connections_total %v\n", forwardConnections.Value())

	fmt.Fprintf(w, "# HELP forward_active_connections Currently open forwarded connections\n")
	fmt.Fprintf(w, "# TYPE forward_active_connections gauge\n")
	fmt.Fprintf(w, "forward_active_connections %v\n", forwardActiveConns.Value())

	fmt.Fprintf(w, "# HELP forward_failed_connections_total Forwarded connections the remote side refused\n")
	fmt.Fprintf(w, "# TYPE forward_failed_connections_total counter\n")
	fmt.Fprintf(w, "forward_failed_connections_total %v\n", forwardFailedConns.Value())

	fmt.Fprintf(w, "# HELP forward_bytes_transferred_total Bytes copied through the local forward\n")
	fmt.Fprintf(w, "# TYPE forward_bytes_transferred_total counter\n")
	fmt.Fprintf(w, "forward_bytes_transferred_total %v\n", forwardBytes.Value())

	fmt.Fprintf(w, "# HELP system_goroutines Number of active goroutines\n")
	fmt.Fprintf(w, "# TYPE system_goroutines gauge\n")
	fmt.Fprintf(w, "system_goroutines %v\n", systemGoroutines.Value())

	fmt.Fprintf(w, "# HELP system_memory_alloc_bytes Currently allocated memory in bytes\n")
	fmt.Fprintf(w, "# TYPE system_memory_alloc_bytes gauge\n")
	fmt.Fprintf(w, "system_memory_alloc_bytes %v\n", systemMemoryAlloc.Value())

	uptime := time.Since(startTime).Seconds()
	fmt.Fprintf(w, "# HELP uptime_seconds Process uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %v\n", uptime)
}
