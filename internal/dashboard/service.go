package dashboard

import (
	"context"
	"time"

	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/identity"
	"csquare/marketplace/marketplace-backend/internal/reports/export"
	"csquare/marketplace/marketplace-backend/pkg/money"
)

// Service loads dashboards on behalf of an authenticated caller
type Service struct {
	companies companies.Repository
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new dashboard service
func NewService(companyRepo companies.Repository, logger *zap.Logger) *Service {
	return &Service{
		companies: companyRepo,
		logger:    logger,
		now:       time.Now,
	}
}

// load resolves slugOrID for caller. Non-admin callers only ever match
// their own company.
func (s *Service) load(ctx context.Context, caller identity.Identity, slugOrID string) (*companies.Company, error) {
	restrictTo := caller.CompanyID
	if caller.IsAdmin() {
		restrictTo = ""
	}
	company, err := s.companies.FindBySlugOrID(ctx, slugOrID, restrictTo)
	if err != nil {
		return nil, companies.MapError(err)
	}
	return company, nil
}

// Get returns the dashboard of the company identified by slugOrID.
func (s *Service) Get(ctx context.Context, caller identity.Identity, slugOrID string) (*Dashboard, error) {
	company, err := s.load(ctx, caller, slugOrID)
	if err != nil {
		return nil, err
	}
	return Build(company, s.now()), nil
}

// CreditLedger returns the company's purchased credits, reclassified, as an
// export table.
func (s *Service) CreditLedger(ctx context.Context, caller identity.Identity, slugOrID string) (*companies.Company, export.Table, error) {
	company, err := s.load(ctx, caller, slugOrID)
	if err != nil {
		return nil, export.Table{}, err
	}

	d := Build(company, s.now())
	table := export.Table{
		Name: "Purchased Credits",
		Columns: []string{
			"Token ID", "Project", "Project Type", "Tons", "Price per Ton (USD)",
			"Total (USD)", "Purchase Date", "Status", "Verifier",
		},
		Rows: make([][]any, 0, len(d.PurchasedCredits)),
	}
	for _, c := range d.PurchasedCredits {
		table.Rows = append(table.Rows, []any{
			c.TokenID, c.ProjectName, string(c.ProjectType), c.Tons, c.PricePerTonUsd,
			money.Cost(c.PricePerTonUsd, c.Tons), c.PurchaseDate, c.Status, c.Verifier,
		})
	}
	return company, table, nil
}
