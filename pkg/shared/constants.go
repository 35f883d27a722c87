package shared

import "time"

// Version is reported by the version command and attached to every log line
const Version = "1.0.0"

// Launch defaults
const (
	DefaultWorkers   = 4
	DefaultLocalPort = 9999
	DefaultHost      = "kerbin"
	DefaultShell     = "bash"
	DefaultSSHPort   = 22
)

// Scheduler payload defaults consumed by the script templates
const (
	DefaultAccount   = "nn9279k"
	DefaultWallTime  = "00:15:00"
	DefaultMemPerCPU = "100M"
)

// Ephemeral port range used for the tunnel and notebook ports
const (
	EphemeralPortMin = 49152
	EphemeralPortMax = 65535

	// MaxPortSampleAttempts bounds re-rolls when the sampled ports collide
	MaxPortSampleAttempts = 32
)

// Timeout constants
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultBarrierTimeout = 2 * time.Minute
	DefaultStatusTimeout  = 60 * time.Second
	DefaultDrainTimeout   = 2 * time.Minute
	BrowserOpenDelay      = 500 * time.Millisecond
)

// Remote shell protocol markers
const (
	MarkerPrefix    = "launchable-sync-"
	JobIDPrefix     = "job id:"
	LineTerminator  = "\n"
	StatusAOK       = "AOK"
	StatusFailed    = "FAILED"
	BatchPathPrefix = "BATCH:"
	RunPathPrefix   = "RUN:"
)

// Buffer size constants
const (
	ReadChunkSize       = 4 * 1024
	OptimizedBufferSize = 32 * 1024
	LastOutputLimit     = 2 * 1024 // tail of output kept for error reports

	DashboardOutputLines = 200
)
