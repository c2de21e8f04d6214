package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopglance/syncengine/pkg/backoff"
	"github.com/shopglance/syncengine/pkg/core"
)

// openTestDB opens a fresh file-based SQLite database under the test's temp
// directory. WAL mode, a busy timeout and immediate transactions keep
// concurrent claim tests honest instead of erroring with SQLITE_BUSY.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "jobs.db") +
		"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open sqlite test db")
	return db
}

// newTestStore returns a migrated store. The policy defaults to zero delays
// so retried jobs are immediately claimable; pass a policy to override.
func newTestStore(t *testing.T, policy ...backoff.Policy) *GormStore {
	t.Helper()
	p := backoff.New([]time.Duration{0, 0, 0, 0, 0}, time.Hour)
	if len(policy) > 0 {
		p = policy[0]
	}
	s := NewGormStore(openTestDB(t), p)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestJob(tenantID, kind, targetKey string) *core.Job {
	return &core.Job{
		TenantID:  tenantID,
		Kind:      kind,
		TargetKey: targetKey,
		Payload:   []byte(`{"skus":["A","B"]}`),
	}
}
