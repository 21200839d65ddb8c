package marketplace_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/cache"
	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/companies/companiestest"
	"csquare/marketplace/marketplace-backend/internal/ledger"
	"csquare/marketplace/marketplace-backend/internal/marketplace"
	"csquare/marketplace/marketplace-backend/internal/notifications"
	"csquare/marketplace/marketplace-backend/internal/projects"
	"csquare/marketplace/marketplace-backend/internal/projects/projectstest"
)

type recordingPublisher struct {
	events []notifications.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notifications.Event) error {
	p.events = append(p.events, e)
	return nil
}

type transactionalRunner struct{}

func (transactionalRunner) Transactional() bool { return true }

func (transactionalRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc       *marketplace.Service
	projects  *projectstest.MockRepository
	companies *companiestest.MockRepository
	events    *recordingPublisher
	cache     *cache.MemoryCache
}

func newFixture(t *testing.T, opts marketplace.Options) *fixture {
	t.Helper()
	f := &fixture{
		projects:  new(projectstest.MockRepository),
		companies: new(companiestest.MockRepository),
		events:    &recordingPublisher{},
		cache:     cache.NewMemoryCache(time.Hour),
	}
	t.Cleanup(func() { f.cache.Close() })
	opts.Events = f.events
	opts.Cache = f.cache
	opts.CacheTTL = time.Minute
	f.svc = marketplace.NewService(f.projects, f.companies, opts, zap.NewNop())
	return f
}

func sampleProject(available, price float64) *projects.Project {
	p := projects.New("Amazon Canopy", ledger.ProjectTypeForestProtection)
	p.ID = primitive.NewObjectID()
	p.TotalCredits = 100
	p.TonsAvailable = available
	p.PricePerTonUsd = price
	p.SellerCompanyID = "seller-1"
	p.VerifierRegistry = "Verra"
	p.Version = 4
	return p
}

func buyerCompany() *companies.Company {
	c := companies.New("Acme Corp", companies.TypeBuyer, companies.AuthProviderLocal)
	c.CompanyID = "buyer-1"
	c.Slug = "acme-corp"
	c.Metrics.TotalInvestedUsd = 100
	c.Metrics.ActiveCredits = 2
	c.Version = 7
	return c
}

func sellerCompany() *companies.Company {
	c := companies.New("Forest Co", companies.TypeSeller, companies.AuthProviderLocal)
	c.CompanyID = "seller-1"
	c.Version = 3
	return c
}

func assertKind(t *testing.T, err error, kind apperrors.Kind) *apperrors.Error {
	t.Helper()
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected classified error, got %v", err)
	assert.Equal(t, kind, appErr.Kind)
	return appErr
}

func TestPurchaseDebitsProjectAndCreditsBuyer(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()
	project := sampleProject(100, 25)
	buyer := buyerCompany()

	f.projects.On("Resolve", ctx, project.ProjectID).Return(project, nil)
	f.companies.On("FindByCompanyID", ctx, "buyer-1").Return(buyer, nil)
	f.companies.On("FindByCompanyID", ctx, "seller-1").Return(sellerCompany(), nil)
	f.projects.On("ApplySale", ctx, project.ID, int64(4), 70.0, 30.0).Return(nil)
	f.companies.On("AppendPurchase", ctx, "buyer-1", int64(7),
		mock.MatchedBy(func(c ledger.PurchasedCredit) bool {
			return c.Status == ledger.StatusActive && c.Tons == 30 && c.PricePerTonUsd == 25 && c.Verifier == "Verra"
		}),
		mock.MatchedBy(func(tx ledger.Transaction) bool {
			return tx.TransactionType == ledger.TransactionTransfer && tx.From == "Forest Co" && tx.To == "Acme Corp"
		}),
		companies.Metrics{ActiveCredits: 32, TotalInvestedUsd: 850},
	).Return(nil)
	f.companies.On("AppendSale", ctx, "seller-1", int64(3), mock.Anything,
		companies.VerifierMetrics{CreditsSold: 30, RevenueUsd: 750}).Return(nil)

	result, err := f.svc.Purchase(ctx, "buyer-1", project.ProjectID, 30)
	require.NoError(t, err)

	assert.Equal(t, 70.0, result.Project.TonsAvailable)
	assert.Equal(t, 30.0, result.Project.SoldCredits)
	assert.Equal(t, 750.0, result.Purchase.TotalCost)
	assert.Equal(t, 25.0, result.Purchase.PricePerTonUsd)
	assert.Regexp(t, `^TKN-`+project.ProjectID+`-[A-Z0-9]{8}$`, result.Purchase.TokenID)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, notifications.EventCreditPurchased, f.events.events[0].Type)
	assert.Equal(t, result.Purchase.TokenID, f.events.events[0].TokenID)
	f.projects.AssertExpectations(t)
	f.companies.AssertExpectations(t)
}

func TestPurchaseRejectsAmountBelowMinimum(t *testing.T) {
	f := newFixture(t, marketplace.Options{})

	for _, tons := range []float64{0, 0.05, -3} {
		_, err := f.svc.Purchase(context.Background(), "buyer-1", "p1", tons)
		appErr := assertKind(t, err, apperrors.KindValidation)
		assert.Equal(t, "Purchase amount must be at least 0.1 tons", appErr.Message)
	}
	f.projects.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestPurchaseRejectsAmountAboveAvailable(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()
	project := sampleProject(5, 25)

	f.projects.On("Resolve", ctx, "p1").Return(project, nil)

	_, err := f.svc.Purchase(ctx, "buyer-1", "p1", 10)
	appErr := assertKind(t, err, apperrors.KindValidation)
	assert.Equal(t, "Requested 10 tons exceeds available 5 tons", appErr.Message)
	f.projects.AssertNotCalled(t, "ApplySale", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.companies.AssertNotCalled(t, "FindByCompanyID", mock.Anything, mock.Anything)
}

func TestPurchaseAllowsFloatNoiseOnFullBalance(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()
	project := sampleProject(5, 10)
	project.SellerCompanyID = ""

	f.projects.On("Resolve", ctx, "p1").Return(project, nil)
	f.companies.On("FindByCompanyID", ctx, "buyer-1").Return(buyerCompany(), nil)
	f.projects.On("ApplySale", ctx, project.ID, int64(4), 0.0, 5.0).Return(nil)
	f.companies.On("AppendPurchase", ctx, "buyer-1", int64(7), mock.Anything,
		mock.MatchedBy(func(tx ledger.Transaction) bool { return tx.From == ledger.MarketplaceCounterparty }),
		mock.Anything).Return(nil)

	result, err := f.svc.Purchase(ctx, "buyer-1", "p1", 5.0000005)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Project.TonsAvailable)
	f.companies.AssertNotCalled(t, "AppendSale", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchaseRejectsSoldOutProject(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()

	f.projects.On("Resolve", ctx, "p1").Return(sampleProject(0, 25), nil)

	_, err := f.svc.Purchase(ctx, "buyer-1", "p1", 1)
	appErr := assertKind(t, err, apperrors.KindValidation)
	assert.Equal(t, "Project has no credits available", appErr.Message)
}

func TestPurchaseUnknownProjectAndBuyer(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()

	f.projects.On("Resolve", ctx, "missing").Return(nil, projects.ErrNotFound)
	_, err := f.svc.Purchase(ctx, "buyer-1", "missing", 1)
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))

	f.projects.On("Resolve", ctx, "p1").Return(sampleProject(10, 25), nil)
	f.companies.On("FindByCompanyID", ctx, "ghost").Return(nil, companies.ErrNotFound)
	_, err = f.svc.Purchase(ctx, "ghost", "p1", 1)
	appErr := assertKind(t, err, apperrors.KindNotFound)
	assert.Equal(t, "Buyer account not found", appErr.Message)
}

func TestPurchaseConcurrentProjectChangeIsConflict(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()
	project := sampleProject(10, 25)

	f.projects.On("Resolve", ctx, "p1").Return(project, nil)
	f.companies.On("FindByCompanyID", ctx, "buyer-1").Return(buyerCompany(), nil)
	f.companies.On("FindByCompanyID", ctx, "seller-1").Return(sellerCompany(), nil)
	f.projects.On("ApplySale", ctx, project.ID, int64(4), 9.0, 1.0).Return(projects.ErrVersionConflict)

	_, err := f.svc.Purchase(ctx, "buyer-1", "p1", 1)
	appErr := assertKind(t, err, apperrors.KindConflict)
	assert.Equal(t, "Project was modified concurrently, please retry", appErr.Message)
	f.projects.AssertNotCalled(t, "RestoreSale", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.events.events)
}

func TestPurchaseCompensatesWhenBuyerWriteFails(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()
	project := sampleProject(10, 25)

	f.projects.On("Resolve", ctx, "p1").Return(project, nil)
	f.companies.On("FindByCompanyID", ctx, "buyer-1").Return(buyerCompany(), nil)
	f.companies.On("FindByCompanyID", ctx, "seller-1").Return(sellerCompany(), nil)
	f.projects.On("ApplySale", ctx, project.ID, int64(4), 8.0, 2.0).Return(nil)
	f.companies.On("AppendPurchase", ctx, "buyer-1", int64(7), mock.Anything, mock.Anything, mock.Anything).
		Return(companies.ErrVersionConflict)
	f.projects.On("RestoreSale", mock.Anything, project.ID, 2.0).Return(nil)

	_, err := f.svc.Purchase(ctx, "buyer-1", "p1", 2)
	assertKind(t, err, apperrors.KindConflict)
	f.projects.AssertCalled(t, "RestoreSale", mock.Anything, project.ID, 2.0)
	assert.Empty(t, f.events.events)
}

func TestPurchaseCompensatesBuyerAndProjectWhenSellerWriteFails(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()
	project := sampleProject(10, 25)
	buyer := buyerCompany()

	var order []string
	f.projects.On("Resolve", ctx, "p1").Return(project, nil)
	f.companies.On("FindByCompanyID", ctx, "buyer-1").Return(buyer, nil)
	f.companies.On("FindByCompanyID", ctx, "seller-1").Return(sellerCompany(), nil)
	f.projects.On("ApplySale", ctx, project.ID, int64(4), 9.0, 1.0).Return(nil)
	f.companies.On("AppendPurchase", ctx, "buyer-1", int64(7), mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.companies.On("AppendSale", ctx, "seller-1", int64(3), mock.Anything, mock.Anything).Return(errors.New("socket closed"))
	f.companies.On("RevertPurchase", mock.Anything, "buyer-1", mock.AnythingOfType("string"), mock.AnythingOfType("string"), buyer.Metrics).
		Run(func(mock.Arguments) { order = append(order, "buyer") }).Return(nil)
	f.projects.On("RestoreSale", mock.Anything, project.ID, 1.0).
		Run(func(mock.Arguments) { order = append(order, "project") }).Return(nil)

	_, err := f.svc.Purchase(ctx, "buyer-1", "p1", 1)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
	assert.Equal(t, []string{"buyer", "project"}, order)
}

func TestPurchaseInsideTransactionSkipsCompensation(t *testing.T) {
	f := newFixture(t, marketplace.Options{Tx: transactionalRunner{}})
	ctx := context.Background()
	project := sampleProject(10, 25)

	f.projects.On("Resolve", ctx, "p1").Return(project, nil)
	f.companies.On("FindByCompanyID", ctx, "buyer-1").Return(buyerCompany(), nil)
	f.companies.On("FindByCompanyID", ctx, "seller-1").Return(sellerCompany(), nil)
	f.projects.On("ApplySale", ctx, project.ID, int64(4), 9.0, 1.0).Return(nil)
	f.companies.On("AppendPurchase", ctx, "buyer-1", int64(7), mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("write conflict"))

	_, err := f.svc.Purchase(ctx, "buyer-1", "p1", 1)
	require.Error(t, err)
	f.projects.AssertNotCalled(t, "RestoreSale", mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchaseFromOwnProjectUsesBumpedVersion(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()
	project := sampleProject(10, 25)
	project.SellerCompanyID = "buyer-1"
	buyer := buyerCompany()

	f.projects.On("Resolve", ctx, "p1").Return(project, nil)
	f.companies.On("FindByCompanyID", ctx, "buyer-1").Return(buyer, nil)
	f.projects.On("ApplySale", ctx, project.ID, int64(4), 9.0, 1.0).Return(nil)
	f.companies.On("AppendPurchase", ctx, "buyer-1", int64(7), mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.companies.On("AppendSale", ctx, "buyer-1", int64(8), mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.Purchase(ctx, "buyer-1", "p1", 1)
	require.NoError(t, err)
	f.companies.AssertExpectations(t)
}

func TestListingsAreDecoratedAndCached(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()
	project := sampleProject(10, 25)
	seller := sellerCompany()
	seller.Slug = "forest-co"
	seller.Badges = []string{"verified"}

	f.projects.On("ListAvailable", ctx).Return([]projects.Project{*project}, nil).Once()
	f.companies.On("ListByCompanyIDs", ctx, []string{"seller-1"}).Return([]companies.Company{*seller}, nil).Once()
	f.projects.On("Facets", ctx).Return(projects.Facets{
		ProjectTypes: []string{"Forest Protection"},
		Countries:    []string{"Brazil"},
	}, nil).Once()

	first, err := f.svc.Listings(ctx)
	require.NoError(t, err)
	second, err := f.svc.Listings(ctx)
	require.NoError(t, err)

	require.Len(t, first.Listings, 1)
	listing := first.Listings[0]
	assert.Equal(t, "Forest Co", listing.CompanyName)
	assert.Equal(t, "forest-co", listing.CompanySlug)
	assert.Equal(t, []string{"verified"}, listing.Badges)
	assert.Equal(t, project.ProjectID, listing.ProjectID)
	assert.Equal(t, []string{"Brazil"}, first.Filters.Countries)
	assert.Equal(t, first, second)
	f.projects.AssertExpectations(t)
}

func TestProjectSavedInvalidatesListings(t *testing.T) {
	f := newFixture(t, marketplace.Options{})
	ctx := context.Background()

	f.projects.On("ListAvailable", ctx).Return([]projects.Project{}, nil)
	f.companies.On("ListByCompanyIDs", ctx, []string{}).Return([]companies.Company{}, nil)
	f.projects.On("Facets", ctx).Return(projects.Facets{}, nil)

	_, err := f.svc.Listings(ctx)
	require.NoError(t, err)
	f.svc.ProjectSaved(ctx, sampleProject(1, 1))
	_, err = f.svc.Listings(ctx)
	require.NoError(t, err)

	f.projects.AssertNumberOfCalls(t, "ListAvailable", 2)
}

type failingIndex struct{}

func (failingIndex) Upsert(context.Context, *projects.Project) error { return nil }
func (failingIndex) Remove(context.Context, string) error            { return nil }
func (failingIndex) Search(context.Context, string, int) ([]string, error) {
	return nil, errors.New("cluster down")
}

func TestSearchFallsBackToDatabase(t *testing.T) {
	f := newFixture(t, marketplace.Options{Index: failingIndex{}})
	ctx := context.Background()
	project := sampleProject(10, 25)

	f.projects.On("SearchAvailable", ctx, "canopy").Return([]projects.Project{*project}, nil)
	f.companies.On("ListByCompanyIDs", ctx, []string{"seller-1"}).Return([]companies.Company{}, nil)

	listings, err := f.svc.Search(ctx, "  canopy ")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Amazon Canopy", listings[0].ProjectName)
}

func TestSearchRequiresQuery(t *testing.T) {
	f := newFixture(t, marketplace.Options{})

	_, err := f.svc.Search(context.Background(), "   ")
	assertKind(t, err, apperrors.KindValidation)
}
