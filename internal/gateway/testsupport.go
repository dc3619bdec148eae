package gateway

import (
	"database/sql"

	"gorm.io/gorm"

	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
)

// NewWithDB builds a Gateway around an already-open *gorm.DB and its
// underlying *sql.DB, skipping Open's dial/ping/pool-sizing steps. It
// exists so internal/repository's tests can point a QueueRepository at a
// sqlmock-backed database without a real network connection, the same
// injection seam internal/data/repos' own tests use.
func NewWithDB(desc model.StoreDescriptor, db *gorm.DB, sqlDB *sql.DB, log *logger.Logger) *Gateway {
	return &Gateway{
		descriptor: desc,
		log:        log.With("component", "gateway", "store", desc.Name),
		db:         db,
		sqlDB:      sqlDB,
		breaker:    newBreaker(desc.Name),
		retry:      defaultRetry,
	}
}
