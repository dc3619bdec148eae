package model

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// WorkerInstance is the process-lifetime-stable identity of one worker:
// "<host>-<uuid>", the only coordination primitive between workers — no
// registry, no leader, no gossip.
type WorkerInstance struct {
	ID   string
	Host string
	Flow string
}

// NewWorkerInstance builds a WorkerInstance. If override is non-empty it
// is used verbatim as ID (APP_INSTANCE_ID); otherwise an id is derived
// from the OS hostname plus a uuid.NewString() token, the same
// host+random identity shape used elsewhere in this codebase to derive
// worker/session ids.
func NewWorkerInstance(flow, override string) (WorkerInstance, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	id := override
	if id == "" {
		id = fmt.Sprintf("%s-%s", host, uuid.NewString())
	}
	return WorkerInstance{ID: id, Host: host, Flow: flow}, nil
}
