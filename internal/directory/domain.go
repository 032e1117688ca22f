package directory

import "errors"

// Company is a central company owning warehouse stock.
type Company struct {
	ID       int64
	Code     string
	Name     string
	IsActive bool
}

// Franchise is a franchise location receiving stock from a company.
type Franchise struct {
	ID        int64
	CompanyID int64
	Code      string
	Name      string
	City      string
	IsActive  bool
}

// Variant is one sellable product variant, the unit the ledger tracks.
type Variant struct {
	ID       int64
	SKU      string
	Name     string
	Barcode  string
	IsActive bool
}

// VariantFilter restricts variant listings.
type VariantFilter struct {
	Search     string
	ActiveOnly bool
	Limit      int
}

var (
	// ErrCompanyNotFound indicates an unknown company id.
	ErrCompanyNotFound = errors.New("directory: company not found")
	// ErrFranchiseNotFound indicates an unknown franchise id.
	ErrFranchiseNotFound = errors.New("directory: franchise not found")
	// ErrVariantNotFound indicates an unknown variant id.
	ErrVariantNotFound = errors.New("directory: variant not found")
)
