package shared

import "fmt"

// JobStatus is the terminal status of a submitted batch job
type JobStatus string

const (
	JobAOK      JobStatus = "AOK"
	JobFailed   JobStatus = "FAILED"
	JobTimedOut JobStatus = "TimedOut"
)

// JobResult is produced once at the end of the run phase and never mutated
type JobResult struct {
	JobID         int       `json:"job_id" yaml:"job_id"`
	Status        JobStatus `json:"status" yaml:"status"`
	DiagnosticLog string    `json:"diagnostic_log,omitempty" yaml:"diagnostic_log,omitempty"`
}

// OK reports whether the job reached the AOK state
func (r *JobResult) OK() bool {
	return r != nil && r.Status == JobAOK
}

func (r *JobResult) String() string {
	if r == nil {
		return "no job"
	}
	return fmt.Sprintf("job %d: %s", r.JobID, r.Status)
}

// TailOutput returns at most limit trailing bytes of s
func TailOutput(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
