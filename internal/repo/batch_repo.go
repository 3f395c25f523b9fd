package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Forge/internal/domain"
)

// BatchRepo — репозиторий батчей.
type BatchRepo struct {
	pool *pgxpool.Pool
}

// NewBatchRepo создаёт новый BatchRepo.
func NewBatchRepo(pool *pgxpool.Pool) *BatchRepo {
	return &BatchRepo{pool: pool}
}

// CreateWithRequests вставляет батч и все его запросы одной транзакцией:
// при ошибке на любом члене не сохраняется ничего. Для каждого запроса
// пишется начальная запись истории и регистрируются упомянутые образы.
func (r *BatchRepo) CreateWithRequests(ctx context.Context, batch *domain.Batch, requests []*domain.Request) error {
	return execTx(ctx, r.pool, func(tx pgx.Tx) error {
		// nil-аннотации должны стать SQL NULL, а не jsonb 'null'.
		var annotations any
		if batch.Annotations != nil {
			annotations = batch.Annotations
		}
		query := `INSERT INTO batches (id, annotations, created_at) VALUES ($1, $2, $3)`
		if _, err := tx.Exec(ctx, query, batch.ID, annotations, batch.CreatedAt); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		for _, req := range requests {
			if err := createRequestTx(ctx, tx, req); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID возвращает батч вместе с id его запросов в порядке создания.
func (r *BatchRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	var b domain.Batch
	query := `SELECT id, annotations, created_at FROM batches WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, id).Scan(&b.ID, &b.Annotations, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id FROM requests WHERE batch_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list batch requests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var reqID uuid.UUID
		if err := rows.Scan(&reqID); err != nil {
			return nil, fmt.Errorf("scan request id: %w", err)
		}
		b.RequestIDs = append(b.RequestIDs, reqID)
	}
	return &b, rows.Err()
}
