// Package projectstest provides a testify mock of projects.Repository.
package projectstest

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"csquare/marketplace/marketplace-backend/internal/projects"
)

// MockRepository is a mock implementation of projects.Repository
type MockRepository struct {
	mock.Mock
}

func project(args mock.Arguments, i int) *projects.Project {
	if v := args.Get(i); v != nil {
		return v.(*projects.Project)
	}
	return nil
}

func list(args mock.Arguments, i int) []projects.Project {
	if v := args.Get(i); v != nil {
		return v.([]projects.Project)
	}
	return nil
}

func (m *MockRepository) Create(ctx context.Context, p *projects.Project) error {
	args := m.Called(ctx, p)
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	return args.Error(0)
}

func (m *MockRepository) FindByProjectID(ctx context.Context, projectID string) (*projects.Project, error) {
	args := m.Called(ctx, projectID)
	return project(args, 0), args.Error(1)
}

func (m *MockRepository) Resolve(ctx context.Context, identifier string) (*projects.Project, error) {
	args := m.Called(ctx, identifier)
	return project(args, 0), args.Error(1)
}

func (m *MockRepository) ListAvailable(ctx context.Context) ([]projects.Project, error) {
	args := m.Called(ctx)
	return list(args, 0), args.Error(1)
}

func (m *MockRepository) ListBySeller(ctx context.Context, sellerCompanyID string) ([]projects.Project, error) {
	args := m.Called(ctx, sellerCompanyID)
	return list(args, 0), args.Error(1)
}

func (m *MockRepository) ListByProjectIDs(ctx context.Context, projectIDs []string) ([]projects.Project, error) {
	args := m.Called(ctx, projectIDs)
	return list(args, 0), args.Error(1)
}

func (m *MockRepository) SearchAvailable(ctx context.Context, query string) ([]projects.Project, error) {
	args := m.Called(ctx, query)
	return list(args, 0), args.Error(1)
}

func (m *MockRepository) Facets(ctx context.Context) (projects.Facets, error) {
	args := m.Called(ctx)
	return args.Get(0).(projects.Facets), args.Error(1)
}

func (m *MockRepository) SellerTotals(ctx context.Context, sellerCompanyID string) (int, float64, error) {
	args := m.Called(ctx, sellerCompanyID)
	return args.Int(0), args.Get(1).(float64), args.Error(2)
}

func (m *MockRepository) Update(ctx context.Context, p *projects.Project) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockRepository) ApplySale(ctx context.Context, id primitive.ObjectID, version int64, tonsAvailable, soldCredits float64) error {
	args := m.Called(ctx, id, version, tonsAvailable, soldCredits)
	return args.Error(0)
}

func (m *MockRepository) RestoreSale(ctx context.Context, id primitive.ObjectID, tons float64) error {
	args := m.Called(ctx, id, tons)
	return args.Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
