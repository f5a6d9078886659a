package variants

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type ListFilters struct {
	Page   int
	Limit  int
	Search string
}

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Variant, int, error)
	Get(ctx context.Context, id int64) (Variant, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Create(ctx context.Context, variant Variant) (Variant, error)
	Update(ctx context.Context, id int64, variant Variant) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Variant, int, error) {
	query := `SELECT id, sku, name, unit_id, is_active, created_at, updated_at FROM product_variants WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR sku ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	countQuery := `SELECT COUNT(*) FROM product_variants WHERE 1=1`
	countArgs := []any{}
	if filters.Search != "" {
		countQuery += ` AND (name ILIKE $1 OR sku ILIKE $1)`
		countArgs = append(countArgs, "%"+filters.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY sku`
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.SKU, &v.Name, &v.UnitID, &v.IsActive, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Variant, error) {
	var v Variant
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, unit_id, is_active, created_at, updated_at FROM product_variants WHERE id=$1`, id).
		Scan(&v.ID, &v.SKU, &v.Name, &v.UnitID, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variant{}, shared.ErrNotFound
		}
		return Variant{}, err
	}
	return v, nil
}

func (r *repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM product_variants WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

func (r *repository) Create(ctx context.Context, variant Variant) (Variant, error) {
	now := time.Now()
	err := r.pool.QueryRow(ctx, `INSERT INTO product_variants (sku, name, unit_id, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5) RETURNING id, created_at, updated_at`,
		variant.SKU, variant.Name, variant.UnitID, variant.IsActive, now).
		Scan(&variant.ID, &variant.CreatedAt, &variant.UpdatedAt)
	return variant, err
}

func (r *repository) Update(ctx context.Context, id int64, variant Variant) error {
	tag, err := r.pool.Exec(ctx, `UPDATE product_variants SET sku=$2, name=$3, unit_id=$4, is_active=$5, updated_at=$6 WHERE id=$1`,
		id, variant.SKU, variant.Name, variant.UnitID, variant.IsActive, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM product_variants WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
