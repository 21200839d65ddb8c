package marketplace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/cache"
	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/database"
	"csquare/marketplace/marketplace-backend/internal/ledger"
	"csquare/marketplace/marketplace-backend/internal/metrics"
	"csquare/marketplace/marketplace-backend/internal/notifications"
	"csquare/marketplace/marketplace-backend/internal/projects"
	"csquare/marketplace/marketplace-backend/internal/search"
	"csquare/marketplace/marketplace-backend/pkg/money"
)

const (
	// MinPurchaseTons is the smallest quantity that can be bought.
	MinPurchaseTons = 0.1
	// availabilityTolerance absorbs float noise when buying the whole balance.
	availabilityTolerance = 1e-6

	listingsKey = cache.PrefixMarketplace + "listings"
	searchKey   = cache.PrefixMarketplace + "search:"
)

// Receipt summarises a completed purchase.
type Receipt struct {
	TokenID        string    `json:"tokenId"`
	Tons           float64   `json:"tons"`
	TotalCost      float64   `json:"totalCost"`
	PricePerTonUsd float64   `json:"pricePerTonUsd"`
	PurchaseDate   time.Time `json:"purchaseDate"`
}

// PurchaseResult is the purchase response body.
type PurchaseResult struct {
	Project  *projects.Project `json:"project"`
	Purchase Receipt           `json:"purchase"`
}

// Service handles marketplace listings and credit purchases
type Service struct {
	projects  projects.Repository
	companies companies.Repository
	tx        database.TxRunner
	cache     cache.Cache
	cacheTTL  time.Duration
	index     search.Index
	events    notifications.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// Options wires the optional collaborators of the service.
type Options struct {
	Tx       database.TxRunner
	Cache    cache.Cache
	CacheTTL time.Duration
	// Index is nil when search is not configured.
	Index  search.Index
	Events notifications.Publisher
}

// NewService creates a new marketplace service
func NewService(projectRepo projects.Repository, companyRepo companies.Repository, opts Options, logger *zap.Logger) *Service {
	if opts.Tx == nil {
		opts.Tx = database.NoTx{}
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryCache(time.Minute)
	}
	if opts.Events == nil {
		opts.Events = notifications.NewDispatcher(logger)
	}
	return &Service{
		projects:  projectRepo,
		companies: companyRepo,
		tx:        opts.Tx,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		index:     opts.Index,
		events:    opts.Events,
		logger:    logger,
		now:       time.Now,
	}
}

// Listings returns every purchasable project with the filter facets.
func (s *Service) Listings(ctx context.Context) (Listings, error) {
	return cache.GetOrLoad(ctx, s.cache, s.logger, "marketplace", listingsKey, s.cacheTTL, func(ctx context.Context) (Listings, error) {
		available, err := s.projects.ListAvailable(ctx)
		if err != nil {
			return Listings{}, fmt.Errorf("failed to load listings: %w", err)
		}
		listings, err := s.decorate(ctx, available)
		if err != nil {
			return Listings{}, err
		}
		facets, err := s.projects.Facets(ctx)
		if err != nil {
			return Listings{}, fmt.Errorf("failed to load listing facets: %w", err)
		}
		return Listings{Listings: listings, Filters: facets}, nil
	})
}

// Search returns purchasable projects matching query, using the search
// index when configured and a database scan otherwise.
func (s *Service) Search(ctx context.Context, query string) ([]Listing, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.Validation("Search query is required")
	}
	if len(query) > 200 {
		return nil, apperrors.Validation("Search query must be at most 200 characters")
	}

	key := searchKey + strings.ToLower(query)
	return cache.GetOrLoad(ctx, s.cache, s.logger, "marketplace_search", key, s.cacheTTL, func(ctx context.Context) ([]Listing, error) {
		found, err := s.searchProjects(ctx, query)
		if err != nil {
			return nil, err
		}
		return s.decorate(ctx, found)
	})
}

func (s *Service) searchProjects(ctx context.Context, query string) ([]projects.Project, error) {
	if s.index != nil {
		ids, err := s.index.Search(ctx, query, 0)
		if err == nil {
			found, err := s.projects.ListByProjectIDs(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("failed to load search hits: %w", err)
			}
			return rankByIDs(found, ids), nil
		}
		s.logger.Warn("Search index unavailable, falling back to database", zap.Error(err))
	}

	found, err := s.projects.SearchAvailable(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search projects: %w", err)
	}
	return found, nil
}

// rankByIDs orders found like ids and drops anything no longer purchasable.
func rankByIDs(found []projects.Project, ids []string) []projects.Project {
	byID := make(map[string]projects.Project, len(found))
	for _, p := range found {
		byID[p.ProjectID] = p
	}
	ranked := make([]projects.Project, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok && p.Purchasable() {
			ranked = append(ranked, p)
		}
	}
	return ranked
}

func (s *Service) decorate(ctx context.Context, items []projects.Project) ([]Listing, error) {
	sellers, err := s.companies.ListByCompanyIDs(ctx, sellerIDs(items))
	if err != nil {
		return nil, fmt.Errorf("failed to load sellers: %w", err)
	}
	return BuildListings(items, sellers), nil
}

func formatTons(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Purchase moves tons of availability from a project to the buyer's ledger
// at the project's current price. The project debit and both ledger writes
// are conditional on the versions read here; they run in one transaction
// when the database supports it and are compensated otherwise.
func (s *Service) Purchase(ctx context.Context, buyerCompanyID, projectIdentifier string, tons float64) (result *PurchaseResult, err error) {
	defer func() {
		switch {
		case err == nil:
			metrics.RecordPurchase("success", result.Purchase.Tons)
		case apperrors.IsKind(err, apperrors.KindConflict):
			metrics.RecordPurchase("conflict", 0)
		case apperrors.IsKind(err, apperrors.KindInternal) || !isClassified(err):
			metrics.RecordPurchase("error", 0)
		default:
			metrics.RecordPurchase("rejected", 0)
		}
	}()

	if math.IsNaN(tons) || math.IsInf(tons, 0) || tons < MinPurchaseTons {
		return nil, apperrors.Validation("Purchase amount must be at least 0.1 tons")
	}

	project, err := s.projects.Resolve(ctx, projectIdentifier)
	if err != nil {
		return nil, projects.MapError(err)
	}

	available := project.TonsAvailable
	if available <= 0 {
		return nil, apperrors.Validation("Project has no credits available")
	}
	if tons-available > availabilityTolerance {
		return nil, apperrors.Validation("Requested %s tons exceeds available %s tons", formatTons(tons), formatTons(available))
	}

	buyer, err := s.companies.FindByCompanyID(ctx, buyerCompanyID)
	if err != nil {
		if errors.Is(err, companies.ErrNotFound) {
			return nil, apperrors.NotFound("Buyer account not found")
		}
		return nil, err
	}

	var seller *companies.Company
	if project.SellerCompanyID != "" {
		seller, err = s.companies.FindByCompanyID(ctx, project.SellerCompanyID)
		if err != nil && !errors.Is(err, companies.ErrNotFound) {
			return nil, err
		}
	}

	order := s.prepare(project, buyer, seller, money.Tons(tons))
	if fields := order.validate(); len(fields) > 0 {
		return nil, apperrors.InvalidFields(fields)
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		return s.commit(ctx, order)
	})
	if err != nil {
		s.logger.Error("Purchase failed",
			zap.Error(err),
			zap.String("project_id", project.ProjectID),
			zap.String("buyer_company_id", buyer.CompanyID),
			zap.Bool("transactional", s.tx.Transactional()))
		return nil, mapCommitError(err)
	}

	project.TonsAvailable = order.remaining
	project.SoldCredits = order.sold
	project.Version++

	s.logger.Info("Credits purchased",
		zap.String("token_id", order.credit.TokenID),
		zap.String("project_id", project.ProjectID),
		zap.String("buyer_company_id", buyer.CompanyID),
		zap.Float64("tons", order.amount),
		zap.Float64("total_cost", order.totalCost))

	s.afterPurchase(ctx, project, buyer, order)

	return &PurchaseResult{
		Project: project,
		Purchase: Receipt{
			TokenID:        order.credit.TokenID,
			Tons:           order.amount,
			TotalCost:      order.totalCost,
			PricePerTonUsd: order.credit.PricePerTonUsd,
			PurchaseDate:   order.credit.PurchaseDate,
		},
	}, nil
}

func isClassified(err error) bool {
	_, ok := apperrors.As(err)
	return ok
}

// order holds every value a purchase writes, computed before any write.
type order struct {
	project   *projects.Project
	buyer     *companies.Company
	seller    *companies.Company
	amount    float64
	totalCost float64
	remaining float64
	sold      float64

	credit        ledger.PurchasedCredit
	buyerTx       ledger.Transaction
	buyerMetrics  companies.Metrics
	sellerTx      ledger.Transaction
	sellerMetrics companies.VerifierMetrics
	sellerVersion int64
}

func (s *Service) prepare(project *projects.Project, buyer, seller *companies.Company, amount float64) *order {
	now := s.now().UTC()
	price := project.PricePerTonUsd
	o := &order{
		project:   project,
		buyer:     buyer,
		seller:    seller,
		amount:    amount,
		totalCost: money.Cost(price, amount),
		remaining: money.SubTonsFloor(project.TonsAvailable, amount),
		sold:      money.AddTons(project.SoldCredits, amount),
	}

	tokenID := ledger.NewTokenID(project.ProjectID)
	o.credit = ledger.PurchasedCredit{
		ProjectName:    project.Name,
		ProjectType:    project.ProjectType,
		Tons:           amount,
		PricePerTonUsd: price,
		PurchaseDate:   now,
		Status:         ledger.StatusActive,
		TokenID:        tokenID,
		Verifier:       project.Verifier(),
	}

	from := ledger.MarketplaceCounterparty
	if seller != nil {
		from = seller.Name
	}
	o.buyerTx = ledger.Transaction{
		TransactionType: ledger.TransactionTransfer,
		TokenID:         tokenID,
		ProjectName:     project.Name,
		AmountTons:      amount,
		From:            from,
		To:              buyer.Name,
		TransactionHash: ledger.NewTransactionHash(),
		OccurredAt:      now,
	}
	o.buyerMetrics = buyer.Metrics
	o.buyerMetrics.ActiveCredits = money.AddTons(o.buyerMetrics.ActiveCredits, amount)
	o.buyerMetrics.TotalInvestedUsd = money.AddUSD(o.buyerMetrics.TotalInvestedUsd, o.totalCost)

	if seller != nil {
		o.sellerTx = o.buyerTx
		o.sellerTx.TransactionHash = ledger.NewTransactionHash()
		o.sellerMetrics = seller.SellerMetrics()
		o.sellerMetrics.CreditsSold = money.AddTons(o.sellerMetrics.CreditsSold, amount)
		o.sellerMetrics.RevenueUsd = money.AddUSD(o.sellerMetrics.RevenueUsd, o.totalCost)
		o.sellerVersion = seller.Version
		if seller.CompanyID == buyer.CompanyID {
			// The buyer write bumps the shared document first.
			o.sellerVersion = buyer.Version + 1
		}
	}
	return o
}

func (o *order) validate() []apperrors.FieldError {
	fields := o.credit.Validate("purchasedCredit.")
	fields = append(fields, o.buyerTx.Validate("transaction.")...)
	return fields
}

func (s *Service) commit(ctx context.Context, o *order) error {
	steps := newSaga(!s.tx.Transactional(), s.logger)
	project, buyer := o.project, o.buyer

	if err := s.projects.ApplySale(ctx, project.ID, project.Version, o.remaining, o.sold); err != nil {
		return err
	}
	steps.onFailure("restore project balance", func(ctx context.Context) error {
		return s.projects.RestoreSale(ctx, project.ID, o.amount)
	})

	if err := s.companies.AppendPurchase(ctx, buyer.CompanyID, buyer.Version, o.credit, o.buyerTx, o.buyerMetrics); err != nil {
		return steps.abort(ctx, err)
	}
	steps.onFailure("revert buyer purchase", func(ctx context.Context) error {
		return s.companies.RevertPurchase(ctx, buyer.CompanyID, o.credit.TokenID, o.buyerTx.TransactionHash, buyer.Metrics)
	})

	if o.seller != nil {
		if err := s.companies.AppendSale(ctx, o.seller.CompanyID, o.sellerVersion, o.sellerTx, o.sellerMetrics); err != nil {
			return steps.abort(ctx, err)
		}
	}
	return nil
}

func mapCommitError(err error) error {
	switch {
	case errors.Is(err, projects.ErrVersionConflict), errors.Is(err, projects.ErrNotFound):
		return apperrors.Conflict("Project was modified concurrently, please retry")
	case errors.Is(err, companies.ErrVersionConflict), errors.Is(err, companies.ErrNotFound):
		return apperrors.Conflict("Company was modified concurrently, please retry")
	default:
		return apperrors.Internal("Unable to complete purchase", err)
	}
}

func (s *Service) afterPurchase(ctx context.Context, project *projects.Project, buyer *companies.Company, o *order) {
	ctx = context.WithoutCancel(ctx)

	event := notifications.NewEvent(notifications.EventCreditPurchased, o.credit.PurchaseDate)
	event.CompanyID = buyer.CompanyID
	event.CompanyName = buyer.Name
	event.CompanySlug = buyer.Slug
	event.ProjectID = project.ProjectID
	event.ProjectName = project.Name
	event.TokenID = o.credit.TokenID
	event.Tons = o.amount
	event.TotalCostUsd = o.totalCost
	event.TransactionHash = o.buyerTx.TransactionHash
	_ = s.events.Publish(ctx, event)

	s.ProjectSaved(ctx, project)
}

// InvalidateFeeds drops cached listings and explorer feeds.
func (s *Service) InvalidateFeeds(ctx context.Context) {
	cache.Invalidate(ctx, s.cache, s.logger, cache.PrefixMarketplace, cache.PrefixExplorer)
}

// ProjectSaved refreshes the derived views of project.
func (s *Service) ProjectSaved(ctx context.Context, project *projects.Project) {
	s.InvalidateFeeds(ctx)
	if s.index == nil {
		return
	}
	if err := s.index.Upsert(ctx, project); err != nil {
		s.logger.Warn("Failed to reindex project", zap.String("project_id", project.ProjectID), zap.Error(err))
	}
}

// ProjectRemoved drops project from the derived views.
func (s *Service) ProjectRemoved(ctx context.Context, project *projects.Project) {
	s.InvalidateFeeds(ctx)
	if s.index == nil {
		return
	}
	if err := s.index.Remove(ctx, project.ProjectID); err != nil {
		s.logger.Warn("Failed to remove project from index", zap.String("project_id", project.ProjectID), zap.Error(err))
	}
}
