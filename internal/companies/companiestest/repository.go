// Package companiestest provides a testify mock of companies.Repository.
package companiestest

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/ledger"
)

// MockRepository is a mock implementation of companies.Repository
type MockRepository struct {
	mock.Mock
}

func company(args mock.Arguments, i int) *companies.Company {
	if v := args.Get(i); v != nil {
		return v.(*companies.Company)
	}
	return nil
}

func (m *MockRepository) Create(ctx context.Context, c *companies.Company) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockRepository) FindByCompanyID(ctx context.Context, companyID string) (*companies.Company, error) {
	args := m.Called(ctx, companyID)
	return company(args, 0), args.Error(1)
}

func (m *MockRepository) FindBySlug(ctx context.Context, slug string) (*companies.Company, error) {
	args := m.Called(ctx, slug)
	return company(args, 0), args.Error(1)
}

func (m *MockRepository) FindBySlugOrID(ctx context.Context, slugOrID string, restrictTo string) (*companies.Company, error) {
	args := m.Called(ctx, slugOrID, restrictTo)
	return company(args, 0), args.Error(1)
}

func (m *MockRepository) FindByLoginEmail(ctx context.Context, email string) (*companies.Company, error) {
	args := m.Called(ctx, email)
	return company(args, 0), args.Error(1)
}

func (m *MockRepository) FindByGoogleIDOrEmail(ctx context.Context, googleID, email string) (*companies.Company, error) {
	args := m.Called(ctx, googleID, email)
	return company(args, 0), args.Error(1)
}

func (m *MockRepository) FindByCertificateID(ctx context.Context, certificateID string) (*companies.Company, error) {
	args := m.Called(ctx, certificateID)
	return company(args, 0), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context, filter companies.ListFilter) ([]companies.Company, error) {
	args := m.Called(ctx, filter)
	if v := args.Get(0); v != nil {
		return v.([]companies.Company), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) ListByCompanyIDs(ctx context.Context, companyIDs []string) ([]companies.Company, error) {
	args := m.Called(ctx, companyIDs)
	if v := args.Get(0); v != nil {
		return v.([]companies.Company), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) SlugExists(ctx context.Context, slug, excludeCompanyID string) (bool, error) {
	args := m.Called(ctx, slug, excludeCompanyID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) NameExists(ctx context.Context, name, excludeCompanyID string) (bool, error) {
	args := m.Called(ctx, name, excludeCompanyID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) UpdateProfile(ctx context.Context, companyID string, update companies.ProfileUpdate, slug string) error {
	args := m.Called(ctx, companyID, update, slug)
	return args.Error(0)
}

func (m *MockRepository) LinkGoogle(ctx context.Context, companyID, googleID, picture string) error {
	args := m.Called(ctx, companyID, googleID, picture)
	return args.Error(0)
}

func (m *MockRepository) AppendPurchase(ctx context.Context, companyID string, version int64, credit ledger.PurchasedCredit, tx ledger.Transaction, metrics companies.Metrics) error {
	args := m.Called(ctx, companyID, version, credit, tx, metrics)
	return args.Error(0)
}

func (m *MockRepository) RevertPurchase(ctx context.Context, companyID, tokenID, txHash string, metrics companies.Metrics) error {
	args := m.Called(ctx, companyID, tokenID, txHash, metrics)
	return args.Error(0)
}

func (m *MockRepository) AppendSale(ctx context.Context, companyID string, version int64, tx ledger.Transaction, metrics companies.VerifierMetrics) error {
	args := m.Called(ctx, companyID, version, tx, metrics)
	return args.Error(0)
}

func (m *MockRepository) RecordRetirement(ctx context.Context, companyID string, version int64, record ledger.RetirementRecord, tx ledger.Transaction, metrics companies.Metrics) error {
	args := m.Called(ctx, companyID, version, record, tx, metrics)
	return args.Error(0)
}

func (m *MockRepository) AddProject(ctx context.Context, companyID string, version int64, projectID primitive.ObjectID, metrics companies.VerifierMetrics) error {
	args := m.Called(ctx, companyID, version, projectID, metrics)
	return args.Error(0)
}

func (m *MockRepository) RemoveProject(ctx context.Context, companyID string, version int64, projectID primitive.ObjectID, metrics companies.VerifierMetrics) error {
	args := m.Called(ctx, companyID, version, projectID, metrics)
	return args.Error(0)
}

func (m *MockRepository) PullProject(ctx context.Context, projectID primitive.ObjectID) error {
	args := m.Called(ctx, projectID)
	return args.Error(0)
}

func (m *MockRepository) ReplaceSellerMetrics(ctx context.Context, companyID string, version int64, metrics companies.VerifierMetrics) error {
	args := m.Called(ctx, companyID, version, metrics)
	return args.Error(0)
}

func (m *MockRepository) ReplaceMetrics(ctx context.Context, companyID string, version int64, metrics companies.Metrics, verifier *companies.VerifierMetrics) error {
	args := m.Called(ctx, companyID, version, metrics, verifier)
	return args.Error(0)
}
