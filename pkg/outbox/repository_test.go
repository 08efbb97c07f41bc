package outbox

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/payment-engine/pkg/kafka"
)

var outboxColumns = []string{
	"id", "aggregate_type", "aggregate_id", "event_type", "topic", "message_key",
	"payload", "headers", "created_at", "processed_at", "retry_count", "last_error",
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

func TestOutboxRepository_GetUnprocessed(t *testing.T) {
	tests := []struct {
		name       string
		aggregates []string
		query      string
		args       []driver.Value
	}{
		{
			name:  "без фильтра",
			query: "SELECT * FROM `outbox` WHERE processed_at IS NULL ORDER BY retry_count ASC, created_at ASC LIMIT ?",
			args:  []driver.Value{10},
		},
		{
			name:       "только платежи и заказы",
			aggregates: []string{AggregatePayment, AggregateOrder},
			query:      "SELECT * FROM `outbox` WHERE aggregate_type IN (?,?) AND processed_at IS NULL ORDER BY retry_count ASC, created_at ASC LIMIT ?",
			args:       []driver.Value{AggregatePayment, AggregateOrder, 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			rows := sqlmock.NewRows(outboxColumns).AddRow(
				"ob-1", AggregatePayment, "pay-1", "payment.completed", kafka.TopicPaymentEvents, "order-1",
				[]byte(`{"status":"COMPLETED"}`), []byte(`{"trace_id":"t-1"}`), time.Now(), nil, 2, nil)
			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).WithArgs(tt.args...).WillReturnRows(rows)

			records, err := NewOutboxRepository(gormDB, tt.aggregates...).GetUnprocessed(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "pay-1", records[0].AggregateID)
			assert.Equal(t, 2, records[0].RetryCount)
			assert.Equal(t, "t-1", records[0].Headers["trace_id"])
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOutboxRepository_WithTx(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewOutboxRepository(gormDB, AggregatePayment)

	rec, err := NewEvent(AggregatePayment, "pay-1", "payment.created", kafka.TopicPaymentEvents, "order-1",
		map[string]string{"status": "PENDING"}, map[string]string{"trace_id": "t-1"})
	require.NoError(t, err)

	// Запись и выборка идут в одной транзакции, фильтр агрегатов сохраняется
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `outbox` WHERE aggregate_type IN (?) AND processed_at IS NULL")).
		WithArgs(AggregatePayment, 5).
		WillReturnRows(sqlmock.NewRows(outboxColumns))
	mock.ExpectCommit()

	err = gormDB.Transaction(func(tx *gorm.DB) error {
		txRepo := repo.WithTx(tx)
		if err := txRepo.Create(ctx, rec); err != nil {
			return err
		}
		_, err := txRepo.GetUnprocessed(ctx, 5)
		return err
	})
	require.NoError(t, err)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_WithTx_RollbackOnError(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	rec, err := NewEvent(AggregateOrder, "order-1", "order.confirmed", kafka.TopicPaymentEvents, "order-1",
		map[string]string{"status": "CONFIRMED"}, nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnError(gorm.ErrInvalidData)
	mock.ExpectRollback()

	err = gormDB.Transaction(func(tx *gorm.DB) error {
		return NewOutboxRepository(gormDB).WithTx(tx).Create(context.Background(), rec)
	})
	assert.ErrorIs(t, err, gorm.ErrInvalidData)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_DeleteProcessedBefore(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	before := time.Now().Add(-7 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `outbox` WHERE aggregate_type IN (?,?) AND (processed_at IS NOT NULL AND processed_at < ?) LIMIT ?")).
		WithArgs(AggregatePayment, AggregateOrder, before, 1000).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	deleted, err := NewOutboxRepository(gormDB, AggregatePayment, AggregateOrder).
		DeleteProcessedBefore(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_Mark_NotFound(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOutboxRepository(gormDB)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `outbox` SET `processed_at`=? WHERE id = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	assert.ErrorIs(t, repo.MarkProcessed(ctx, "missing"), ErrOutboxNotFound)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `outbox` SET `last_error`=?,`retry_count`=retry_count + 1 WHERE id = ?")).
		WithArgs("kafka unavailable", "ob-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	assert.NoError(t, repo.MarkFailed(ctx, "ob-1", errors.New("kafka unavailable")))

	assert.NoError(t, mock.ExpectationsWereMet())
}
