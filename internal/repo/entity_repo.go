package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Forge/internal/domain"
)

// EntityRepo — реестр сущностей: get-or-create для образов, операторов и
// архитектур. Дедупликация при конкурентном создании обеспечивается
// уникальным констрейнтом и upsert'ом: INSERT ... ON CONFLICT DO UPDATE
// всегда возвращает строку, чья бы вставка ни победила.
type EntityRepo struct {
	pool *pgxpool.Pool
}

// NewEntityRepo создаёт новый EntityRepo.
func NewEntityRepo(pool *pgxpool.Pool) *EntityRepo {
	return &EntityRepo{pool: pool}
}

// GetOrCreateImage возвращает образ по pull-спецификации, создавая при
// отсутствии.
func (r *EntityRepo) GetOrCreateImage(ctx context.Context, pullSpec string) (*domain.Image, error) {
	return getOrCreateImage(ctx, r.pool, pullSpec)
}

// GetOrCreateOperator возвращает оператора по имени, создавая при отсутствии.
func (r *EntityRepo) GetOrCreateOperator(ctx context.Context, name string) (*domain.Operator, error) {
	return getOrCreateOperator(ctx, r.pool, name)
}

// GetOrCreateArchitecture возвращает архитектуру по имени, создавая при
// отсутствии.
func (r *EntityRepo) GetOrCreateArchitecture(ctx context.Context, name string) (*domain.Architecture, error) {
	return getOrCreateArchitecture(ctx, r.pool, name)
}

// Tx-совместимые помощники: их используют request/batch репозитории внутри
// своих транзакций, чтобы регистрация сущностей коммитилась атомарно с
// породившей её операцией.

func getOrCreateImage(ctx context.Context, db DB, pullSpec string) (*domain.Image, error) {
	if err := domain.ValidatePullSpec(pullSpec); err != nil {
		return nil, err
	}

	// DO UPDATE вместо DO NOTHING: при конфликте RETURNING всё равно
	// отдаёт существующую строку одним round-trip'ом.
	query := `
		INSERT INTO images (id, pull_spec)
		VALUES ($1, $2)
		ON CONFLICT (pull_spec) DO UPDATE SET pull_spec = EXCLUDED.pull_spec
		RETURNING id, pull_spec, operator_id
	`
	var img domain.Image
	err := db.QueryRow(ctx, query, uuid.New(), pullSpec).Scan(&img.ID, &img.PullSpec, &img.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("get or create image: %w", err)
	}
	return &img, nil
}

func getOrCreateOperator(ctx context.Context, db DB, name string) (*domain.Operator, error) {
	query := `
		INSERT INTO operators (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`
	var op domain.Operator
	err := db.QueryRow(ctx, query, uuid.New(), name).Scan(&op.ID, &op.Name)
	if err != nil {
		return nil, fmt.Errorf("get or create operator: %w", err)
	}
	return &op, nil
}

func getOrCreateArchitecture(ctx context.Context, db DB, name string) (*domain.Architecture, error) {
	query := `
		INSERT INTO architectures (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`
	var arch domain.Architecture
	err := db.QueryRow(ctx, query, uuid.New(), name).Scan(&arch.ID, &arch.Name)
	if err != nil {
		return nil, fmt.Errorf("get or create architecture: %w", err)
	}
	return &arch, nil
}

// setImageOperator привязывает bundle-образ к оператору (bundle_mapping).
func setImageOperator(ctx context.Context, db DB, imageID, operatorID uuid.UUID) error {
	_, err := db.Exec(ctx, `UPDATE images SET operator_id = $2 WHERE id = $1`, imageID, operatorID)
	if err != nil {
		return fmt.Errorf("set image operator: %w", err)
	}
	return nil
}

// linkRequestBundle связывает запрос с bundle-образом (идемпотентно).
func linkRequestBundle(ctx context.Context, db DB, requestID, imageID uuid.UUID) error {
	query := `
		INSERT INTO request_bundles (request_id, image_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := db.Exec(ctx, query, requestID, imageID); err != nil {
		return fmt.Errorf("link request bundle: %w", err)
	}
	return nil
}

// linkRequestOperator связывает rm-запрос с удаляемым оператором.
func linkRequestOperator(ctx context.Context, db DB, requestID, operatorID uuid.UUID) error {
	query := `
		INSERT INTO request_operators (request_id, operator_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := db.Exec(ctx, query, requestID, operatorID); err != nil {
		return fmt.Errorf("link request operator: %w", err)
	}
	return nil
}

// linkRequestArchitecture добавляет архитектуру в набор запроса.
func linkRequestArchitecture(ctx context.Context, db DB, requestID, archID uuid.UUID) error {
	query := `
		INSERT INTO request_architectures (request_id, architecture_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := db.Exec(ctx, query, requestID, archID); err != nil {
		return fmt.Errorf("link request architecture: %w", err)
	}
	return nil
}
