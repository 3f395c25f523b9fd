package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Forge/internal/domain"
)

// RequestRepo — репозиторий запросов на сборку.
//
// Текущая пара (state, state_reason) денормализована в строке запроса,
// полная история лежит в request_states append-only. Переходы идут
// только через AppendState/ApplyPatch: блокировка строки FOR UPDATE,
// доменная проверка, вставка в историю и обновление денормализации —
// одна транзакция (compare-and-append).
type RequestRepo struct {
	pool *pgxpool.Pool
}

// NewRequestRepo создаёт новый RequestRepo.
func NewRequestRepo(pool *pgxpool.Pool) *RequestRepo {
	return &RequestRepo{pool: pool}
}

const requestColumns = `id, request_type, batch_id, requester, state, state_reason,
	created_at, updated_at, organization, distribution_scope, force_backport,
	overwrite_from_index, bundles, operators, binary_image, binary_image_resolved,
	from_index, from_index_resolved, index_image, index_image_resolved,
	from_bundle_image, from_bundle_image_resolved, bundle_image`

// GetByID возвращает запрос с архитектурами и bundle_mapping, без истории.
func (r *RequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	req, err := getRequest(ctx, r.pool, id, false)
	if err != nil {
		return nil, err
	}
	if err := loadAssociations(ctx, r.pool, req); err != nil {
		return nil, err
	}
	return req, nil
}

// GetHistory возвращает историю состояний от старых к новым:
// последняя запись — текущее состояние.
func (r *RequestRepo) GetHistory(ctx context.Context, id uuid.UUID) ([]domain.StateEntry, error) {
	query := `
		SELECT state, state_reason, created_at
		FROM request_states
		WHERE request_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var history []domain.StateEntry
	for rows.Next() {
		var e domain.StateEntry
		if err := rows.Scan(&e.State, &e.Reason, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan state entry: %w", err)
		}
		history = append(history, e)
	}
	return history, rows.Err()
}

// List возвращает запросы с фильтрацией. Архитектуры догружаются одним
// запросом на всю страницу; bundle_mapping в списке не отдаётся.
func (r *RequestRepo) List(ctx context.Context, filter RequestFilter) ([]domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE ($1::text IS NULL OR state = $1)
		  AND ($2::text IS NULL OR requester = $2)
		  AND ($3::uuid IS NULL OR batch_id = $3)
		  AND ($4::text IS NULL OR request_type = $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.State)),
		nullString(filter.User),
		nullUUID(filter.BatchID),
		nullString(string(filter.Type)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadArchesForAll(ctx, requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// AppendState применяет переход состояния транзакционно.
// Возвращает false без ошибки при идемпотентном повторе (NoOp).
func (r *RequestRepo) AppendState(ctx context.Context, id uuid.UUID, state domain.RequestState, reason string) (bool, error) {
	var changed bool
	err := execTx(ctx, r.pool, func(tx pgx.Tx) error {
		req, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		changed, err = req.AddState(state, reason)
		if err != nil || !changed {
			return err
		}
		return appendStateTx(ctx, tx, req)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// RequestPatch — проверенный оркестратором набор изменений запроса.
// Ключи ResolvedImages уже прошли allow-list варианта.
type RequestPatch struct {
	// Arches — архитектуры для добавления в набор запроса.
	Arches []string

	// ResolvedImages — ключ патча -> pull spec.
	ResolvedImages map[string]string

	// BundleMapping — оператор -> pull spec'и его бандлов.
	BundleMapping map[string][]string

	// DistributionScope — новое значение контура (пустая строка — не менять).
	DistributionScope string

	// State и StateReason — переход состояния. Применяется последним.
	State       *domain.RequestState
	StateReason string
}

// Колонки requests, которые разрешено патчить значениями-образами.
// Статическая таблица: имя колонки никогда не приходит от клиента.
var patchImageColumns = map[string]string{
	"binary_image_resolved":      "binary_image_resolved",
	"from_index_resolved":        "from_index_resolved",
	"index_image":                "index_image",
	"index_image_resolved":       "index_image_resolved",
	"from_bundle_image_resolved": "from_bundle_image_resolved",
	"bundle_image":               "bundle_image",
}

// ApplyPatch применяет патч одной транзакцией: регистрация образов и
// операторов, добавление архитектур, bundle_mapping и переход состояния
// коммитятся атомарно. Возвращает обновлённый запрос и флаг перехода
// (false — состояние не менялось либо повтор был идемпотентным NoOp).
func (r *RequestRepo) ApplyPatch(ctx context.Context, id uuid.UUID, patch RequestPatch) (*domain.Request, bool, error) {
	var (
		out          *domain.Request
		transitioned bool
	)
	err := execTx(ctx, r.pool, func(tx pgx.Tx) error {
		req, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}

		for key, spec := range patch.ResolvedImages {
			col, ok := patchImageColumns[key]
			if !ok {
				return fmt.Errorf("unpatchable image key %q", key)
			}
			img, err := getOrCreateImage(ctx, tx, spec)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE requests SET `+col+` = $2 WHERE id = $1`, id, img.PullSpec); err != nil {
				return fmt.Errorf("patch %s: %w", col, err)
			}
		}

		if patch.DistributionScope != "" {
			if _, err := tx.Exec(ctx, `UPDATE requests SET distribution_scope = $2 WHERE id = $1`, id, patch.DistributionScope); err != nil {
				return fmt.Errorf("patch distribution_scope: %w", err)
			}
		}

		for _, name := range patch.Arches {
			arch, err := getOrCreateArchitecture(ctx, tx, name)
			if err != nil {
				return err
			}
			if err := linkRequestArchitecture(ctx, tx, id, arch.ID); err != nil {
				return err
			}
		}

		for opName, bundles := range patch.BundleMapping {
			op, err := getOrCreateOperator(ctx, tx, opName)
			if err != nil {
				return err
			}
			for _, b := range bundles {
				img, err := getOrCreateImage(ctx, tx, b)
				if err != nil {
					return err
				}
				if err := setImageOperator(ctx, tx, img.ID, op.ID); err != nil {
					return err
				}
				if err := linkRequestBundle(ctx, tx, id, img.ID); err != nil {
					return err
				}
			}
		}

		if patch.State != nil {
			changed, err := req.AddState(*patch.State, patch.StateReason)
			if err != nil {
				return err
			}
			if changed {
				if err := appendStateTx(ctx, tx, req); err != nil {
					return err
				}
				transitioned = true
			}
		}

		out, err = getRequest(ctx, tx, id, false)
		if err != nil {
			return err
		}
		return loadAssociations(ctx, tx, out)
	})
	if err != nil {
		return nil, false, err
	}
	return out, transitioned, nil
}

// ListFinishedBefore возвращает id завершённых запросов, чей последний
// переход старше cutoff. Используется уборщиком логов.
func (r *RequestRepo) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM requests
		WHERE state IN ('complete', 'failed') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list finished requests: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan request id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Helpers ---

// RequestFilter — параметры фильтрации запросов.
type RequestFilter struct {
	State   domain.RequestState
	User    string
	BatchID *uuid.UUID
	Type    domain.RequestType
	Limit   int
	Offset  int
}

// lockRequest читает запрос FOR UPDATE: строка заблокирована до конца
// транзакции, конкурентные переходы сериализуются.
func lockRequest(ctx context.Context, db DB, id uuid.UUID) (*domain.Request, error) {
	return getRequest(ctx, db, id, true)
}

func getRequest(ctx context.Context, db DB, id uuid.UUID, forUpdate bool) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanRequest(db.QueryRow(ctx, query, id))
}

// scanRequest сканирует строку requests в доменный Request,
// раскладывая плоские колонки по структуре варианта.
func scanRequest(row pgx.Row) (*domain.Request, error) {
	var (
		req                domain.Request
		requester          *string
		organization       *string
		distributionScope  *string
		forceBackport      bool
		overwriteFromIndex bool
		bundles            []string
		operators          []string
		binaryImage        *string
		binaryImageRes     *string
		fromIndex          *string
		fromIndexRes       *string
		indexImage         *string
		indexImageRes      *string
		fromBundleImage    *string
		fromBundleImageRes *string
		bundleImage        *string
	)

	err := row.Scan(
		&req.ID,
		&req.Type,
		&req.BatchID,
		&requester,
		&req.State,
		&req.StateReason,
		&req.CreatedAt,
		&req.UpdatedAt,
		&organization,
		&distributionScope,
		&forceBackport,
		&overwriteFromIndex,
		&bundles,
		&operators,
		&binaryImage,
		&binaryImageRes,
		&fromIndex,
		&fromIndexRes,
		&indexImage,
		&indexImageRes,
		&fromBundleImage,
		&fromBundleImageRes,
		&bundleImage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}

	if requester != nil {
		req.User = *requester
	}

	switch req.Type {
	case domain.RequestTypeAdd:
		req.Add = &domain.AddDetails{
			Bundles:             bundles,
			BinaryImage:         deref(binaryImage),
			BinaryImageResolved: deref(binaryImageRes),
			FromIndex:           deref(fromIndex),
			FromIndexResolved:   deref(fromIndexRes),
			IndexImage:          deref(indexImage),
			IndexImageResolved:  deref(indexImageRes),
			Organization:        deref(organization),
			ForceBackport:       forceBackport,
			OverwriteFromIndex:  overwriteFromIndex,
			DistributionScope:   deref(distributionScope),
		}
	case domain.RequestTypeRm:
		req.Rm = &domain.RmDetails{
			Operators:           operators,
			BinaryImage:         deref(binaryImage),
			BinaryImageResolved: deref(binaryImageRes),
			FromIndex:           deref(fromIndex),
			FromIndexResolved:   deref(fromIndexRes),
			IndexImage:          deref(indexImage),
			IndexImageResolved:  deref(indexImageRes),
			OverwriteFromIndex:  overwriteFromIndex,
			DistributionScope:   deref(distributionScope),
		}
	case domain.RequestTypeRegenerateBundle:
		req.RegenerateBundle = &domain.RegenerateBundleDetails{
			FromBundleImage:         deref(fromBundleImage),
			FromBundleImageResolved: deref(fromBundleImageRes),
			BundleImage:             deref(bundleImage),
			Organization:            deref(organization),
		}
	}
	return &req, nil
}

// createRequestTx вставляет запрос, его начальную запись истории и
// регистрирует все упомянутые образы/операторов в реестре. Вызывается
// только из транзакции создания батча.
func createRequestTx(ctx context.Context, db DB, req *domain.Request) error {
	var (
		bundles            []string
		operators          []string
		organization       string
		distributionScope  string
		forceBackport      bool
		overwriteFromIndex bool
		binaryImage        string
		fromIndex          string
		fromBundleImage    string
	)
	switch {
	case req.Add != nil:
		bundles = req.Add.Bundles
		organization = req.Add.Organization
		distributionScope = req.Add.DistributionScope
		forceBackport = req.Add.ForceBackport
		overwriteFromIndex = req.Add.OverwriteFromIndex
		binaryImage = req.Add.BinaryImage
		fromIndex = req.Add.FromIndex
	case req.Rm != nil:
		operators = req.Rm.Operators
		distributionScope = req.Rm.DistributionScope
		overwriteFromIndex = req.Rm.OverwriteFromIndex
		binaryImage = req.Rm.BinaryImage
		fromIndex = req.Rm.FromIndex
	case req.RegenerateBundle != nil:
		organization = req.RegenerateBundle.Organization
		fromBundleImage = req.RegenerateBundle.FromBundleImage
	}

	query := `
		INSERT INTO requests (
			id, request_type, batch_id, requester, state, state_reason,
			created_at, updated_at, organization, distribution_scope,
			force_backport, overwrite_from_index, bundles, operators,
			binary_image, from_index, from_bundle_image
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := db.Exec(ctx, query,
		req.ID,
		req.Type,
		req.BatchID,
		nullString(req.User),
		req.State,
		req.StateReason,
		req.CreatedAt,
		req.UpdatedAt,
		nullString(organization),
		nullString(distributionScope),
		forceBackport,
		overwriteFromIndex,
		bundles,
		operators,
		nullString(binaryImage),
		nullString(fromIndex),
		nullString(fromBundleImage),
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	stateQuery := `
		INSERT INTO request_states (request_id, state, state_reason, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := db.Exec(ctx, stateQuery, req.ID, req.State, req.StateReason, req.CreatedAt); err != nil {
		return fmt.Errorf("insert initial state: %w", err)
	}

	// Реестр сущностей: каждый упомянутый образ и оператор получает строку.
	for _, spec := range []string{binaryImage, fromIndex, fromBundleImage} {
		if spec == "" {
			continue
		}
		if _, err := getOrCreateImage(ctx, db, spec); err != nil {
			return err
		}
	}
	for _, b := range bundles {
		img, err := getOrCreateImage(ctx, db, b)
		if err != nil {
			return err
		}
		if err := linkRequestBundle(ctx, db, req.ID, img.ID); err != nil {
			return err
		}
	}
	for _, name := range operators {
		op, err := getOrCreateOperator(ctx, db, name)
		if err != nil {
			return err
		}
		if err := linkRequestOperator(ctx, db, req.ID, op.ID); err != nil {
			return err
		}
	}
	return nil
}

// appendStateTx пишет новую запись истории и денормализованное состояние.
// Доменная проверка перехода уже сделана вызывающим.
func appendStateTx(ctx context.Context, db DB, req *domain.Request) error {
	query := `
		INSERT INTO request_states (request_id, state, state_reason, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := db.Exec(ctx, query, req.ID, req.State, req.StateReason, req.UpdatedAt); err != nil {
		return fmt.Errorf("insert state: %w", err)
	}

	update := `UPDATE requests SET state = $2, state_reason = $3, updated_at = $4 WHERE id = $1`
	if _, err := db.Exec(ctx, update, req.ID, req.State, req.StateReason, req.UpdatedAt); err != nil {
		return fmt.Errorf("update request state: %w", err)
	}
	return nil
}

// loadAssociations догружает архитектуры и bundle_mapping запроса.
func loadAssociations(ctx context.Context, db DB, req *domain.Request) error {
	archQuery := `
		SELECT a.name
		FROM request_architectures ra
		JOIN architectures a ON a.id = ra.architecture_id
		WHERE ra.request_id = $1
		ORDER BY a.name
	`
	rows, err := db.Query(ctx, archQuery, req.ID)
	if err != nil {
		return fmt.Errorf("load arches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan arch: %w", err)
		}
		req.Arches = append(req.Arches, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if req.Add == nil {
		return nil
	}

	mapQuery := `
		SELECT o.name, i.pull_spec
		FROM request_bundles rb
		JOIN images i ON i.id = rb.image_id
		JOIN operators o ON o.id = i.operator_id
		WHERE rb.request_id = $1
		ORDER BY o.name, i.pull_spec
	`
	mapRows, err := db.Query(ctx, mapQuery, req.ID)
	if err != nil {
		return fmt.Errorf("load bundle mapping: %w", err)
	}
	defer mapRows.Close()
	for mapRows.Next() {
		var op, spec string
		if err := mapRows.Scan(&op, &spec); err != nil {
			return fmt.Errorf("scan bundle mapping: %w", err)
		}
		if req.Add.BundleMapping == nil {
			req.Add.BundleMapping = make(map[string][]string)
		}
		req.Add.BundleMapping[op] = append(req.Add.BundleMapping[op], spec)
	}
	return mapRows.Err()
}

// loadArchesForAll догружает архитектуры для страницы списка одним запросом.
func (r *RequestRepo) loadArchesForAll(ctx context.Context, requests []domain.Request) error {
	if len(requests) == 0 {
		return nil
	}
	ids := make([]string, len(requests))
	index := make(map[uuid.UUID]*domain.Request, len(requests))
	for i := range requests {
		ids[i] = requests[i].ID.String()
		index[requests[i].ID] = &requests[i]
	}

	query := `
		SELECT ra.request_id, a.name
		FROM request_architectures ra
		JOIN architectures a ON a.id = ra.architecture_id
		WHERE ra.request_id = ANY($1::uuid[])
		ORDER BY a.name
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("load arches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("scan arch: %w", err)
		}
		if req, ok := index[id]; ok {
			req.Arches = append(req.Arches, name)
		}
	}
	return rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
