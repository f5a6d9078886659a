package locations

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error)
	Get(ctx context.Context, id int64) (Location, error)
	Create(ctx context.Context, location Location) (Location, error)
	Update(ctx context.Context, id int64, location Location) error
	Delete(ctx context.Context, id int64) error
	CompanyPolicy(ctx context.Context, locationID int64) (string, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error) {
	query := `SELECT id, branch_id, code, name, address, created_at, updated_at FROM locations WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.BranchID != nil {
		argCount++
		query += ` AND branch_id = $` + strconv.Itoa(argCount)
		args = append(args, *filters.BranchID)
	}
	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	countQuery := `SELECT COUNT(*) FROM locations WHERE 1=1`
	countArgs := []any{}
	countArgCount := 0
	if filters.BranchID != nil {
		countArgCount++
		countQuery += ` AND branch_id = $` + strconv.Itoa(countArgCount)
		countArgs = append(countArgs, *filters.BranchID)
	}
	if filters.Search != "" {
		countArgCount++
		countQuery += ` AND (name ILIKE $` + strconv.Itoa(countArgCount) + ` OR code ILIKE $` + strconv.Itoa(countArgCount) + `)`
		countArgs = append(countArgs, "%"+filters.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)

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

	var locations []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.BranchID, &l.Code, &l.Name, &l.Address, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, 0, err
		}
		locations = append(locations, l)
	}
	return locations, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Location, error) {
	var l Location
	err := r.pool.QueryRow(ctx, `SELECT id, branch_id, code, name, address, created_at, updated_at FROM locations WHERE id=$1`, id).
		Scan(&l.ID, &l.BranchID, &l.Code, &l.Name, &l.Address, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, shared.ErrNotFound
		}
		return Location{}, err
	}
	return l, nil
}

func (r *repository) Create(ctx context.Context, location Location) (Location, error) {
	now := time.Now()
	err := r.pool.QueryRow(ctx, `INSERT INTO locations (branch_id, code, name, address, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5) RETURNING id, created_at, updated_at`,
		location.BranchID, location.Code, location.Name, location.Address, now).
		Scan(&location.ID, &location.CreatedAt, &location.UpdatedAt)
	return location, err
}

func (r *repository) Update(ctx context.Context, id int64, location Location) error {
	tag, err := r.pool.Exec(ctx, `UPDATE locations SET branch_id=$2, code=$3, name=$4, address=$5, updated_at=$6 WHERE id=$1`,
		id, location.BranchID, location.Code, location.Name, location.Address, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM locations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CompanyPolicy walks location -> branch -> company and returns the
// company's costing policy. A missing link anywhere in the chain means
// no policy, not an error.
func (r *repository) CompanyPolicy(ctx context.Context, locationID int64) (string, error) {
	var policy string
	err := r.pool.QueryRow(ctx, `SELECT c.costing_policy
FROM locations l
JOIN branches b ON b.id = l.branch_id
JOIN companies c ON c.id = b.company_id
WHERE l.id = $1`, locationID).Scan(&policy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return policy, nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == shared.SortDesc {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	default:
		return "name " + dir
	}
}
