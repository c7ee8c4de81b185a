package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// offlineDatastore a datastore pointed at a closed port; nothing connects
// until a statement is executed
func offlineDatastore(t *testing.T) *Datastore {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:1)/history?parseTime=True",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true, SkipDefaultTransaction: true})
	require.NoError(t, err)
	return &Datastore{db: db}
}

func TestDatastore_DBUsesTransactionFromContext(t *testing.T) {
	ds := offlineDatastore(t)
	tx := ds.db.Session(&gorm.Session{DryRun: true})
	txCtx := context.WithValue(context.Background(), contextTxKey{}, tx)

	assert.True(t, ds.DB(txCtx).DryRun)
	assert.False(t, ds.DB(context.Background()).DryRun)

	// repositories run on the transaction carried by ctx
	cutoff := time.Now()
	n, err := NewScalingEventRepository(ds).DeleteOldEvents(txCtx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = NewWorkerSnapshotRepository(ds).DeleteBefore(txCtx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = NewScalingEventRepository(ds).DeleteOldEvents(context.Background(), cutoff)
	assert.Error(t, err, "outside the transaction the offline connection is used")
}
