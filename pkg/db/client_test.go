package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type ledgerRow struct {
	ID   int
	Note string
}

func openSQLite(t *testing.T, logg *logger.Logger, slow time.Duration) *Client {
	t.Helper()
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	client, err := New(context.Background(), config.DBConfig{
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		Driver:       config.DBDriverSQLite,
		MaxOpenConns: 1,
		SlowQuery:    slow,
	}, logg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(&ledgerRow{}))
	return client
}

func countRows(t *testing.T, client *Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, client.DB().Model(&ledgerRow{}).Count(&n).Error)
	return n
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{Driver: config.DBDriverSQLite}, nil)
	assert.Error(t, err, "dsn required")

	_, err = New(context.Background(), config.DBConfig{DSN: "x", Driver: "mysql"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	client := openSQLite(t, nil, 0)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&ledgerRow{Note: "kept"}).Error
	}))
	assert.EqualValues(t, 1, countRows(t, client))

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&ledgerRow{Note: "dropped"}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, countRows(t, client))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	client := openSQLite(t, nil, 0)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Create(&ledgerRow{Note: "half"})
			panic("kaboom")
		})
	})
	assert.EqualValues(t, 0, countRows(t, client))
	require.NoError(t, client.Ping(context.Background()))
}

func TestQueryLoggerReportsFailuresNotMissingRows(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: buf, Format: logger.FormatJSON})
	client := openSQLite(t, logg, 0)
	ctx := context.Background()

	var row ledgerRow
	err := client.DB().WithContext(ctx).First(&row, 42).Error
	require.True(t, IsNotFound(err))
	assert.NotContains(t, buf.String(), "db.query_failed")

	err = client.DB().WithContext(ctx).Exec("SELECT * FROM missing_table").Error
	require.Error(t, err)
	assert.Contains(t, buf.String(), "db.query_failed")
	assert.Contains(t, buf.String(), "missing_table")
}

func TestQueryLoggerFlagsSlowStatements(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: buf, Format: logger.FormatJSON})
	client := openSQLite(t, logg, time.Nanosecond)

	require.NoError(t, client.DB().Create(&ledgerRow{Note: "slow"}).Error)
	assert.Contains(t, buf.String(), "db.slow_query")
	assert.Contains(t, buf.String(), `"rows":1`)
}

func TestIsUniqueViolation(t *testing.T) {
	client := openSQLite(t, nil, 0)
	conn := client.DB()
	require.NoError(t, conn.Exec("CREATE TABLE uniq_refs (ref TEXT PRIMARY KEY)").Error)
	require.NoError(t, conn.Exec("INSERT INTO uniq_refs (ref) VALUES ('pi_1')").Error)

	err := conn.Exec("INSERT INTO uniq_refs (ref) VALUES ('pi_1')").Error
	assert.True(t, IsUniqueViolation(err, ""))
	assert.False(t, IsUniqueViolation(errors.New("connection reset"), ""))
	assert.False(t, IsUniqueViolation(nil, ""))
}
