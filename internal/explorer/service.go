package explorer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/cache"
	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/reports/export"
)

const feedKey = cache.PrefixExplorer + "feed"

// Service serves the cached explorer feed
type Service struct {
	companies companies.Repository
	cache     cache.Cache
	ttl       time.Duration
	logger    *zap.Logger
}

// NewService creates a new explorer service
func NewService(companyRepo companies.Repository, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		companies: companyRepo,
		cache:     c,
		ttl:       ttl,
		logger:    logger,
	}
}

// Feed returns the explorer feed, from cache when fresh.
func (s *Service) Feed(ctx context.Context) (Feed, error) {
	return cache.GetOrLoad(ctx, s.cache, s.logger, "explorer", feedKey, s.ttl, func(ctx context.Context) (Feed, error) {
		all, err := s.companies.List(ctx, companies.ListFilter{WithLedger: true})
		if err != nil {
			return Feed{}, fmt.Errorf("failed to load explorer feed: %w", err)
		}
		return BuildFeed(all), nil
	})
}

// Tables returns the feed as retirement and transaction export tables.
func (s *Service) Tables(ctx context.Context) (retirements, transactions export.Table, err error) {
	feed, err := s.Feed(ctx)
	if err != nil {
		return export.Table{}, export.Table{}, err
	}

	retirements = export.Table{
		Name: "Retirements",
		Columns: []string{
			"Certificate ID", "Token ID", "Project", "Tons Retired", "Retired Date",
			"Retired By", "Verifier", "Transaction Hash",
		},
		Rows: make([][]any, 0, len(feed.RetiredCredits)),
	}
	for _, r := range feed.RetiredCredits {
		retirements.Rows = append(retirements.Rows, []any{
			r.CertificateID, r.TokenID, r.ProjectName, r.TonsRetired, r.RetiredDate,
			r.RetiredBy, r.Verifier, r.TransactionHash,
		})
	}

	transactions = export.Table{
		Name: "Transactions",
		Columns: []string{
			"Type", "Token ID", "Project", "Tons", "From", "To", "Company",
			"Occurred At", "Transaction Hash",
		},
		Rows: make([][]any, 0, len(feed.Transactions)),
	}
	for _, tx := range feed.Transactions {
		transactions.Rows = append(transactions.Rows, []any{
			string(tx.TransactionType), tx.TokenID, tx.ProjectName, tx.AmountTons, tx.From, tx.To,
			tx.CompanyName, tx.OccurredAt, tx.TransactionHash,
		})
	}
	return retirements, transactions, nil
}
