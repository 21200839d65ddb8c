package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/companies/companiestest"
	"csquare/marketplace/marketplace-backend/internal/ledger"
	"csquare/marketplace/marketplace-backend/internal/projects"
	"csquare/marketplace/marketplace-backend/internal/projects/projectstest"
)

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) Upsert(ctx context.Context, project *projects.Project) error {
	return m.Called(ctx, project).Error(0)
}

func (m *mockIndex) Remove(ctx context.Context, projectID string) error {
	return m.Called(ctx, projectID).Error(0)
}

func (m *mockIndex) Search(ctx context.Context, query string, limit int) ([]string, error) {
	args := m.Called(ctx, query, limit)
	return args.Get(0).([]string), args.Error(1)
}

func TestLedgerMetrics(t *testing.T) {
	credits := []ledger.PurchasedCredit{
		{Tons: 10, PricePerTonUsd: 12.5, Status: ledger.StatusActive},
		{Tons: 2.5, PricePerTonUsd: 40, Status: ledger.StatusRetired},
		{Tons: 0.1, PricePerTonUsd: 0.333, Status: ledger.StatusActive},
	}

	assert.Equal(t, companies.Metrics{
		TotalCo2OffsetTons: 12.6,
		ActiveCredits:      10.1,
		RetiredCredits:     2.5,
		TotalInvestedUsd:   225.03,
	}, LedgerMetrics(credits))
}

func TestReconcile(t *testing.T) {
	companyRepo := new(companiestest.MockRepository)
	projectRepo := new(projectstest.MockRepository)
	index := new(mockIndex)
	ctx := context.Background()

	consistent := companies.Company{
		CompanyID: "buyer-ok",
		Type:      companies.TypeBuyer,
		Metrics:   companies.Metrics{TotalCo2OffsetTons: 1, ActiveCredits: 1, TotalInvestedUsd: 10},
		PurchasedCredits: []ledger.PurchasedCredit{
			{Tons: 1, PricePerTonUsd: 10, Status: ledger.StatusActive},
		},
	}
	drifted := companies.Company{
		CompanyID: "buyer-drift",
		Type:      companies.TypeBuyer,
		Version:   7,
		Metrics:   companies.Metrics{ActiveCredits: 99},
		PurchasedCredits: []ledger.PurchasedCredit{
			{Tons: 4, PricePerTonUsd: 5, Status: ledger.StatusRetired},
		},
	}
	seller := companies.Company{
		CompanyID:       "seller-1",
		Type:            companies.TypeSeller,
		Version:         3,
		VerifierMetrics: &companies.VerifierMetrics{TotalProjects: 1, CreditsIssued: 100, CreditsSold: 30, RevenueUsd: 750},
	}

	companyRepo.On("List", ctx, companies.ListFilter{WithLedger: true}).
		Return([]companies.Company{consistent, drifted, seller}, nil)
	companyRepo.On("ReplaceMetrics", ctx, "buyer-drift", int64(7),
		companies.Metrics{TotalCo2OffsetTons: 4, RetiredCredits: 4, TotalInvestedUsd: 20},
		(*companies.VerifierMetrics)(nil)).Return(nil)
	projectRepo.On("SellerTotals", ctx, "seller-1").Return(2, 250.0, nil)
	companyRepo.On("ReplaceMetrics", ctx, "seller-1", int64(3), companies.Metrics{},
		&companies.VerifierMetrics{TotalProjects: 2, CreditsIssued: 250, CreditsSold: 30, RevenueUsd: 750}).Return(nil)

	available := []projects.Project{{ProjectID: "p-1"}, {ProjectID: "p-2"}}
	projectRepo.On("ListAvailable", ctx).Return(available, nil)
	index.On("Upsert", ctx, mock.MatchedBy(func(p *projects.Project) bool { return p.ProjectID == "p-1" })).Return(nil)
	index.On("Upsert", ctx, mock.MatchedBy(func(p *projects.Project) bool { return p.ProjectID == "p-2" })).Return(errors.New("cluster red"))

	worker := NewReconcileWorker(companyRepo, projectRepo, index, time.Minute, zap.NewNop())
	stats, err := worker.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, ReconcileStats{Companies: 3, Updated: 2, Reindexed: 1}, stats)
	companyRepo.AssertNotCalled(t, "ReplaceMetrics", mock.Anything, "buyer-ok", mock.Anything, mock.Anything, mock.Anything)
	companyRepo.AssertExpectations(t)
}

func TestReconcileDefersCompaniesWrittenDuringRun(t *testing.T) {
	companyRepo := new(companiestest.MockRepository)
	projectRepo := new(projectstest.MockRepository)
	ctx := context.Background()

	// A sale committed after List moved the seller past version 3.
	seller := companies.Company{
		CompanyID:       "seller-1",
		Type:            companies.TypeSeller,
		Version:         3,
		VerifierMetrics: &companies.VerifierMetrics{TotalProjects: 1, CreditsIssued: 100, CreditsSold: 10, RevenueUsd: 250},
	}

	companyRepo.On("List", ctx, companies.ListFilter{WithLedger: true}).Return([]companies.Company{seller}, nil)
	projectRepo.On("SellerTotals", ctx, "seller-1").Return(1, 120.0, nil)
	companyRepo.On("ReplaceMetrics", ctx, "seller-1", int64(3), companies.Metrics{},
		&companies.VerifierMetrics{TotalProjects: 1, CreditsIssued: 120, CreditsSold: 10, RevenueUsd: 250}).
		Return(companies.ErrVersionConflict)

	worker := NewReconcileWorker(companyRepo, projectRepo, nil, time.Minute, zap.NewNop())
	stats, err := worker.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, ReconcileStats{Companies: 1, Conflicted: 1}, stats)
	companyRepo.AssertExpectations(t)
}

func TestReconcileWorker_RejectsBadSchedule(t *testing.T) {
	worker := NewReconcileWorker(new(companiestest.MockRepository), new(projectstest.MockRepository), nil, time.Minute, zap.NewNop())
	assert.Error(t, worker.Start(context.Background(), "not a schedule"))
}
