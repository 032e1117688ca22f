package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository serves read-only directory lookups. Companies, franchises and
// variants are owned by upstream master data; this module only reads them.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetCompany(ctx context.Context, id int64) (Company, error) {
	var c Company
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, is_active FROM companies WHERE id=$1`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrCompanyNotFound
		}
		return Company{}, err
	}
	return c, nil
}

func (r *Repository) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, is_active FROM companies WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	companies := []Company{}
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.IsActive); err != nil {
			return nil, err
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

func (r *Repository) GetFranchise(ctx context.Context, id int64) (Franchise, error) {
	var f Franchise
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, code, name, city, is_active FROM franchises WHERE id=$1`, id).
		Scan(&f.ID, &f.CompanyID, &f.Code, &f.Name, &f.City, &f.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Franchise{}, ErrFranchiseNotFound
		}
		return Franchise{}, err
	}
	return f, nil
}

func (r *Repository) ListFranchises(ctx context.Context, companyID int64) ([]Franchise, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, code, name, city, is_active FROM franchises WHERE company_id=$1 AND is_active ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	franchises := []Franchise{}
	for rows.Next() {
		var f Franchise
		if err := rows.Scan(&f.ID, &f.CompanyID, &f.Code, &f.Name, &f.City, &f.IsActive); err != nil {
			return nil, err
		}
		franchises = append(franchises, f)
	}
	return franchises, rows.Err()
}

func (r *Repository) GetVariant(ctx context.Context, id int64) (Variant, error) {
	var v Variant
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, COALESCE(barcode, ''), is_active FROM product_variants WHERE id=$1`, id).
		Scan(&v.ID, &v.SKU, &v.Name, &v.Barcode, &v.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variant{}, ErrVariantNotFound
		}
		return Variant{}, err
	}
	return v, nil
}

func (r *Repository) ListVariants(ctx context.Context, filter VariantFilter) ([]Variant, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, sku, name, COALESCE(barcode, ''), is_active FROM product_variants WHERE ($1 = '' OR sku ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')`
	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY id LIMIT $2`

	rows, err := r.pool.Query(ctx, query, filter.Search, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants := []Variant{}
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.SKU, &v.Name, &v.Barcode, &v.IsActive); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}
