package directory

import (
	"context"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// RepositoryPort abstracts repository usage for the directory service.
type RepositoryPort interface {
	GetCompany(ctx context.Context, id int64) (Company, error)
	ListCompanies(ctx context.Context) ([]Company, error)
	GetFranchise(ctx context.Context, id int64) (Franchise, error)
	ListFranchises(ctx context.Context, companyID int64) ([]Franchise, error)
	GetVariant(ctx context.Context, id int64) (Variant, error)
	ListVariants(ctx context.Context, filter VariantFilter) ([]Variant, error)
}

// Service serves directory reads. Listings are sorted with a locale-aware
// collator so names with diacritics order the way operators expect.
type Service struct {
	repo RepositoryPort

	mu       sync.Mutex
	collator *collate.Collator
}

// NewService builds Service. An unparseable locale falls back to plain
// case-insensitive ordering.
func NewService(repo RepositoryPort, locale string) *Service {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	return &Service{repo: repo, collator: collate.New(tag, collate.IgnoreCase)}
}

// compare is collator access serialized; collate.Collator is not safe for
// concurrent use.
func (s *Service) compare(a, b string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collator.CompareString(a, b)
}

func (s *Service) sortByName(n int, name func(int) string, swap func(int, int)) {
	// insertion sort keeps the collator call count small for directory-size lists
	for i := 1; i < n; i++ {
		for j := i; j > 0 && s.compare(name(j), name(j-1)) < 0; j-- {
			swap(j, j-1)
		}
	}
}

// Company loads one company.
func (s *Service) Company(ctx context.Context, id int64) (Company, error) {
	return s.repo.GetCompany(ctx, id)
}

// Companies lists active companies sorted by name.
func (s *Service) Companies(ctx context.Context) ([]Company, error) {
	companies, err := s.repo.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	s.sortByName(len(companies),
		func(i int) string { return companies[i].Name },
		func(i, j int) { companies[i], companies[j] = companies[j], companies[i] })
	return companies, nil
}

// Franchise loads one franchise.
func (s *Service) Franchise(ctx context.Context, id int64) (Franchise, error) {
	return s.repo.GetFranchise(ctx, id)
}

// Franchises lists a company's active franchises sorted by name.
func (s *Service) Franchises(ctx context.Context, companyID int64) ([]Franchise, error) {
	franchises, err := s.repo.ListFranchises(ctx, companyID)
	if err != nil {
		return nil, err
	}
	s.sortByName(len(franchises),
		func(i int) string { return franchises[i].Name },
		func(i, j int) { franchises[i], franchises[j] = franchises[j], franchises[i] })
	return franchises, nil
}

// Variant loads one product variant.
func (s *Service) Variant(ctx context.Context, id int64) (Variant, error) {
	return s.repo.GetVariant(ctx, id)
}

// Variants searches product variants sorted by name.
func (s *Service) Variants(ctx context.Context, filter VariantFilter) ([]Variant, error) {
	variants, err := s.repo.ListVariants(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.sortByName(len(variants),
		func(i int) string { return variants[i].Name },
		func(i, j int) { variants[i], variants[j] = variants[j], variants[i] })
	return variants, nil
}
