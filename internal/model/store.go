package model

import "time"

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMSSQL    Dialect = "mssql"
)

// StoreDescriptor names one database the worker talks to. The core
// requires exactly one writable store (the queue store) and zero or
// more read-only source stores.
type StoreDescriptor struct {
	Name         string
	Dialect      Dialect
	DSN          string
	ReadOnly     bool
	PoolSize     int
	MaxOverflow  int
	QueryTimeout time.Duration
}

// StoreStatus is one entry of a HealthReport's per-store probe results.
type StoreStatus struct {
	Reachable     bool    `json:"reachable"`
	RoundTripMS   float64 `json:"round_trip_ms"`
	SchemaVersion string  `json:"schema_version,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// QueueCounts is the queue snapshot of a HealthReport.
type QueueCounts struct {
	Pending         int64                  `json:"pending"`
	Processing      int64                  `json:"processing"`
	Failed          int64                  `json:"failed"`
	CompletedRecent int64                  `json:"completed_recent"`
	ByFlow          map[string]FlowCounts `json:"by_flow,omitempty"`
}

type FlowCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed,omitempty"`
	Completed  int64 `json:"completed,omitempty"`
}

// LifecycleStatus is the HealthReport's "lifecycle" block.
type LifecycleStatus struct {
	State        string `json:"state"`
	UptimeSec    int64  `json:"uptime_sec"`
	RestartCount int    `json:"restart_count"`
}

// InstanceStatus is the HealthReport's "instance" block.
type InstanceStatus struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Flow string `json:"flow"`
}

// HealthReport is the tree produced by the Health Surface: overall
// status, per-store status, a queue snapshot, instance identity,
// lifecycle state, and a wall-clock timestamp.
type HealthReport struct {
	Status    string                 `json:"status"`
	Instance  InstanceStatus         `json:"instance"`
	Stores    map[string]StoreStatus `json:"stores"`
	Queue     QueueCounts            `json:"queue"`
	Lifecycle LifecycleStatus        `json:"lifecycle"`
	Timestamp time.Time              `json:"ts"`
}
