package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	companies  []Company
	franchises []Franchise
	variants   []Variant
}

func (r *stubRepo) GetCompany(ctx context.Context, id int64) (Company, error) {
	for _, c := range r.companies {
		if c.ID == id {
			return c, nil
		}
	}
	return Company{}, ErrCompanyNotFound
}

func (r *stubRepo) ListCompanies(ctx context.Context) ([]Company, error) {
	out := make([]Company, len(r.companies))
	copy(out, r.companies)
	return out, nil
}

func (r *stubRepo) GetFranchise(ctx context.Context, id int64) (Franchise, error) {
	for _, f := range r.franchises {
		if f.ID == id {
			return f, nil
		}
	}
	return Franchise{}, ErrFranchiseNotFound
}

func (r *stubRepo) ListFranchises(ctx context.Context, companyID int64) ([]Franchise, error) {
	out := []Franchise{}
	for _, f := range r.franchises {
		if f.CompanyID == companyID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *stubRepo) GetVariant(ctx context.Context, id int64) (Variant, error) {
	for _, v := range r.variants {
		if v.ID == id {
			return v, nil
		}
	}
	return Variant{}, ErrVariantNotFound
}

func (r *stubRepo) ListVariants(ctx context.Context, filter VariantFilter) ([]Variant, error) {
	out := make([]Variant, len(r.variants))
	copy(out, r.variants)
	return out, nil
}

func TestCompaniesSortedByCollatedName(t *testing.T) {
	repo := &stubRepo{companies: []Company{
		{ID: 1, Name: "Zephyr Retail"},
		{ID: 2, Name: "Ärlig Handel"},
		{ID: 3, Name: "atlas goods"},
		{ID: 4, Name: "Atlas Goods North"},
	}}
	svc := NewService(repo, "en")

	companies, err := svc.Companies(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Ärlig Handel", companies[0].Name, "diacritics sort with their base letter")
	require.Equal(t, "atlas goods", companies[1].Name, "ordering ignores case")
	require.Equal(t, "Atlas Goods North", companies[2].Name)
	require.Equal(t, "Zephyr Retail", companies[3].Name)
}

func TestServiceFallsBackOnBadLocale(t *testing.T) {
	repo := &stubRepo{companies: []Company{
		{ID: 1, Name: "beta"},
		{ID: 2, Name: "Alpha"},
	}}
	svc := NewService(repo, "not-a-locale")

	companies, err := svc.Companies(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Alpha", companies[0].Name)
}

func TestFranchisesFilteredByCompany(t *testing.T) {
	repo := &stubRepo{franchises: []Franchise{
		{ID: 1, CompanyID: 1, Name: "Harbor"},
		{ID: 2, CompanyID: 2, Name: "Uptown"},
		{ID: 3, CompanyID: 1, Name: "Airport"},
	}}
	svc := NewService(repo, "en")

	franchises, err := svc.Franchises(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, franchises, 2)
	require.Equal(t, "Airport", franchises[0].Name)
}
