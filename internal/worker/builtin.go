package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/qflowio/queueworker/internal/model"
)

// EchoProcessFunc is the reference ProcessFunc cmd/queueworker registers
// when no business logic has been compiled in: it merges the claimed
// record's own payload back as its result, so a fresh deployment can be
// exercised end-to-end (claim, process, complete) before any real flow
// logic is wired up. A production build replaces this registration with
// its own ProcessFunc for APP_FLOW_NAME; Registry.Register rejects a
// second registration under the same name, so the two can never be
// mixed up silently. Each result is stamped with a fresh uuid so repeated
// echoes of the same record are distinguishable in the stored payload.
func EchoProcessFunc(_ context.Context, rec model.QueueRecord) (model.Payload, error) {
	return rec.Payload.Merge("echoed_from", rec.ID).Merge("result_id", uuid.NewString()), nil
}
