// Package config loads the process's entire configuration from APP_-
// prefixed environment variables into one immutable value at startup.
// There are no globals and no lazy module-level state: Config is
// constructed once in cmd/queueworker and threaded through every
// constructor, the same shape as an app.New()/LoadConfig chain.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qflowio/queueworker/internal/apierr"
	"github.com/qflowio/queueworker/internal/logger"
)

type RestartPolicy string

const (
	RestartNever        RestartPolicy = "never"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartAlways        RestartPolicy = "always"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMSSQL    Dialect = "mssql"
)

// StoreConfig is a single StoreDescriptor as read from the environment:
// either the one required queue store, or one of zero-or-more read-only
// source stores.
type StoreConfig struct {
	Name         string
	Dialect      Dialect
	DSN          string
	ReadOnly     bool
	PoolSize     int
	MaxOverflow  int
	QueryTimeout time.Duration
}

type Config struct {
	FlowName   string
	InstanceID string // empty means auto-generate from host+random

	Queue   StoreConfig
	Sources []StoreConfig

	BatchSize         int
	WorkerConcurrency int
	OrphanTimeout     time.Duration
	OrphanInterval    time.Duration
	MaxRetries        int

	HealthInterval time.Duration
	HealthTimeout  time.Duration
	SlowThreshold  time.Duration
	AlertDepth     int

	RestartPolicy  RestartPolicy
	MaxRestarts    int
	RestartBaseSec time.Duration
	RestartCapSec  time.Duration

	GracePeriod time.Duration

	LogLevel  string
	LogFormat string

	HealthAddr string // e.g. ":8080"

	WorkflowEngineAddr string // optional workflow-engine endpoint to probe as a dependency
	CacheAddr          string // optional, internal/cache (Redis queue-snapshot cache)
}

// Load parses the environment into a Config. Any parsing failure is
// fatal at startup: configuration errors fail fast with exit code 1.
func Load(log *logger.Logger) (Config, error) {
	var cfg Config

	cfg.FlowName = strings.TrimSpace(getEnv("APP_FLOW_NAME", "", log))
	if cfg.FlowName == "" {
		return cfg, apierr.Config("APP_FLOW_NAME is required", nil)
	}
	if len(cfg.FlowName) > 100 {
		return cfg, apierr.Config("APP_FLOW_NAME exceeds 100 characters", nil)
	}

	cfg.InstanceID = strings.TrimSpace(getEnv("APP_INSTANCE_ID", "", log))

	queueDSN := strings.TrimSpace(getEnv("APP_QUEUE_DSN", "", log))
	if queueDSN == "" {
		return cfg, apierr.Config("APP_QUEUE_DSN is required", nil)
	}
	dialect, err := parseDialect(getEnv("APP_QUEUE_DIALECT", string(DialectPostgres), log))
	if err != nil {
		return cfg, err
	}

	poolSize, err := getEnvInt("APP_POOL_SIZE", 5, log)
	if err != nil {
		return cfg, err
	}
	poolOverflow, err := getEnvInt("APP_POOL_OVERFLOW", 10, log)
	if err != nil {
		return cfg, err
	}
	queryTimeoutSec, err := getEnvInt("APP_QUERY_TIMEOUT_SEC", 30, log)
	if err != nil {
		return cfg, err
	}

	cfg.Queue = StoreConfig{
		Name:         "queue",
		Dialect:      dialect,
		DSN:          queueDSN,
		ReadOnly:     false,
		PoolSize:     poolSize,
		MaxOverflow:  poolOverflow,
		QueryTimeout: time.Duration(queryTimeoutSec) * time.Second,
	}

	cfg.Sources, err = loadSourceStores(log, poolSize, poolOverflow, cfg.Queue.QueryTimeout)
	if err != nil {
		return cfg, err
	}

	batchSize, err := getEnvInt("APP_BATCH_SIZE", 100, log)
	if err != nil {
		return cfg, err
	}
	cfg.BatchSize = clamp(batchSize, 1, 1000)

	workerConcurrency, err := getEnvInt("APP_WORKER_CONCURRENCY", 1, log)
	if err != nil {
		return cfg, err
	}
	if workerConcurrency < 1 {
		workerConcurrency = 1
	}
	cfg.WorkerConcurrency = workerConcurrency

	orphanTimeoutSec, err := getEnvInt("APP_ORPHAN_TIMEOUT_SEC", 3600, log)
	if err != nil {
		return cfg, err
	}
	cfg.OrphanTimeout = time.Duration(orphanTimeoutSec) * time.Second

	orphanIntervalSec, err := getEnvInt("APP_ORPHAN_INTERVAL_SEC", 300, log)
	if err != nil {
		return cfg, err
	}
	cfg.OrphanInterval = time.Duration(orphanIntervalSec) * time.Second

	maxRetries, err := getEnvInt("APP_MAX_RETRIES", 3, log)
	if err != nil {
		return cfg, err
	}
	cfg.MaxRetries = maxRetries

	healthIntervalSec, err := getEnvInt("APP_HEALTH_INTERVAL_SEC", 30, log)
	if err != nil {
		return cfg, err
	}
	cfg.HealthInterval = time.Duration(healthIntervalSec) * time.Second

	healthTimeoutSec, err := getEnvInt("APP_HEALTH_TIMEOUT_SEC", 2, log)
	if err != nil {
		return cfg, err
	}
	cfg.HealthTimeout = time.Duration(healthTimeoutSec) * time.Second

	cfg.SlowThreshold = 500 * time.Millisecond
	alertDepth, err := getEnvInt("APP_ALERT_DEPTH", 10000, log)
	if err != nil {
		return cfg, err
	}
	cfg.AlertDepth = alertDepth

	restartPolicy, err := parseRestartPolicy(getEnv("APP_RESTART_POLICY", string(RestartOnFailure), log))
	if err != nil {
		return cfg, err
	}
	cfg.RestartPolicy = restartPolicy

	maxRestarts, err := getEnvInt("APP_MAX_RESTARTS", 5, log)
	if err != nil {
		return cfg, err
	}
	cfg.MaxRestarts = maxRestarts

	restartBaseSec, err := getEnvInt("APP_RESTART_BASE_SEC", 10, log)
	if err != nil {
		return cfg, err
	}
	cfg.RestartBaseSec = time.Duration(restartBaseSec) * time.Second

	restartCapSec, err := getEnvInt("APP_RESTART_CAP_SEC", 300, log)
	if err != nil {
		return cfg, err
	}
	cfg.RestartCapSec = time.Duration(restartCapSec) * time.Second

	gracePeriodSec, err := getEnvInt("APP_GRACE_PERIOD_SEC", 30, log)
	if err != nil {
		return cfg, err
	}
	cfg.GracePeriod = time.Duration(gracePeriodSec) * time.Second

	cfg.LogLevel = getEnv("APP_LOG_LEVEL", "info", log)
	cfg.LogFormat = getEnv("APP_LOG_FORMAT", "json", log)
	cfg.HealthAddr = getEnv("APP_HEALTH_ADDR", ":8080", log)
	cfg.WorkflowEngineAddr = strings.TrimSpace(getEnv("APP_WORKFLOW_ENGINE_ADDR", "", log))
	cfg.CacheAddr = strings.TrimSpace(getEnv("APP_CACHE_ADDR", "", log))

	return cfg, nil
}

func loadSourceStores(log *logger.Logger, poolSize, poolOverflow int, timeout time.Duration) ([]StoreConfig, error) {
	var sources []StoreConfig
	if dsn := strings.TrimSpace(getEnv("APP_SOURCE_DSN", "", log)); dsn != "" {
		sources = append(sources, StoreConfig{
			Name: "source_0", Dialect: DialectPostgres, DSN: dsn, ReadOnly: true,
			PoolSize: poolSize, MaxOverflow: poolOverflow, QueryTimeout: timeout,
		})
	}
	for n := 1; ; n++ {
		key := fmt.Sprintf("APP_SOURCE_DSN_%d", n)
		dsn := strings.TrimSpace(getEnv(key, "", log))
		if dsn == "" {
			break
		}
		sources = append(sources, StoreConfig{
			Name: fmt.Sprintf("source_%d", n), Dialect: DialectPostgres, DSN: dsn, ReadOnly: true,
			PoolSize: poolSize, MaxOverflow: poolOverflow, QueryTimeout: timeout,
		})
	}
	return sources, nil
}

func parseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(DialectPostgres):
		return DialectPostgres, nil
	case string(DialectMSSQL):
		return DialectMSSQL, nil
	default:
		return "", apierr.Config(fmt.Sprintf("unknown dialect %q", s), nil)
	}
}

func parseRestartPolicy(s string) (RestartPolicy, error) {
	switch RestartPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case RestartNever:
		return RestartNever, nil
	case RestartOnFailure:
		return RestartOnFailure, nil
	case RestartAlways:
		return RestartAlways, nil
	case RestartUnlessStopped:
		return RestartUnlessStopped, nil
	default:
		return "", apierr.Config(fmt.Sprintf("unknown restart policy %q", s), nil)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// getEnv reads key from the environment, logging whether the default or
// the environment value was used, the way utils.GetEnv does elsewhere
// in this codebase.
func getEnv(key, defaultVal string, log *logger.Logger) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		if log != nil {
			log.Debug("env var not set, using default", "key", key, "default", defaultVal)
		}
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int, log *logger.Logger) (int, error) {
	raw := getEnv(key, "", log)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.Config(fmt.Sprintf("%s=%q is not a valid integer", key, raw), err)
	}
	return n, nil
}
