package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/ledger"
	"csquare/marketplace/marketplace-backend/internal/projects"
	"csquare/marketplace/marketplace-backend/pkg/money"
)

//go:embed data/companies.json
var dataset []byte

// SeedCompany is one company of the dataset with its projects.
type SeedCompany struct {
	Name              string                     `json:"name"`
	Type              companies.Type             `json:"type"`
	Role              companies.Role             `json:"role"`
	Email             string                     `json:"email"`
	Password          string                     `json:"password"`
	WalletAddress     string                     `json:"walletAddress"`
	Website           string                     `json:"website"`
	Country           string                     `json:"country"`
	Region            string                     `json:"region"`
	Description       string                     `json:"description"`
	Badges            []string                   `json:"badges"`
	Metrics           companies.Metrics          `json:"metrics"`
	VerifierMetrics   *companies.VerifierMetrics `json:"verifierMetrics"`
	PurchasedCredits  []ledger.PurchasedCredit   `json:"purchasedCredits"`
	RetirementRecords []ledger.RetirementRecord  `json:"retirementRecords"`
	Transactions      []ledger.Transaction       `json:"transactions"`
	Projects          []SeedProject              `json:"projects"`
}

// SeedProject is a project listed by a seeded seller.
type SeedProject struct {
	Name             string             `json:"name"`
	Description      string             `json:"description"`
	ProjectType      ledger.ProjectType `json:"projectType"`
	Country          string             `json:"country"`
	Region           string             `json:"region"`
	Location         string             `json:"location"`
	TotalCredits     float64            `json:"totalCredits"`
	SoldCredits      float64            `json:"soldCredits"`
	PricePerTonUsd   float64            `json:"pricePerTonUsd"`
	Vintage          string             `json:"vintage"`
	Status           projects.Status    `json:"status"`
	VerifierRegistry string             `json:"verifierRegistry"`
	ListingImageURL  string             `json:"listingImageUrl"`
}

// LoadDataset decodes the embedded dataset.
func LoadDataset() ([]SeedCompany, error) {
	var out []SeedCompany
	if err := json.Unmarshal(dataset, &out); err != nil {
		return nil, fmt.Errorf("failed to decode seed dataset: %w", err)
	}
	return out, nil
}

// Seeder writes the dataset through the repositories
type Seeder struct {
	companies  companies.Repository
	projects   projects.Repository
	bcryptCost int
	logger     *zap.Logger
}

// SeedStats counts what a run inserted.
type SeedStats struct {
	Companies int
	Projects  int
	Skipped   int
}

// NewSeeder creates a new seeder
func NewSeeder(companyRepo companies.Repository, projectRepo projects.Repository, bcryptCost int, logger *zap.Logger) *Seeder {
	return &Seeder{companies: companyRepo, projects: projectRepo, bcryptCost: bcryptCost, logger: logger}
}

// Run inserts every company whose name is not yet taken, with its projects.
func (s *Seeder) Run(ctx context.Context, data []SeedCompany) (SeedStats, error) {
	var stats SeedStats
	for _, sc := range data {
		exists, err := s.companies.NameExists(ctx, sc.Name, "")
		if err != nil {
			return stats, fmt.Errorf("failed to check %q: %w", sc.Name, err)
		}
		if exists {
			s.logger.Info("Company already present, skipping", zap.String("name", sc.Name))
			stats.Skipped++
			continue
		}

		company, err := s.buildCompany(ctx, sc)
		if err != nil {
			return stats, err
		}
		if err := s.companies.Create(ctx, company); err != nil {
			return stats, fmt.Errorf("failed to create %q: %w", sc.Name, err)
		}
		stats.Companies++

		derive := sc.VerifierMetrics == nil
		for _, sp := range sc.Projects {
			if err := s.createProject(ctx, company, sp, derive); err != nil {
				return stats, err
			}
			stats.Projects++
		}
	}
	return stats, nil
}

func (s *Seeder) buildCompany(ctx context.Context, sc SeedCompany) (*companies.Company, error) {
	company := companies.New(sc.Name, sc.Type, companies.AuthProviderLocal)
	if sc.Role != "" {
		company.Role = sc.Role
	}

	slug, err := companies.UniqueSlug(ctx, s.companies, sc.Name, "")
	if err != nil {
		return nil, fmt.Errorf("failed to allocate slug for %q: %w", sc.Name, err)
	}
	company.Slug = slug

	email := strings.ToLower(strings.TrimSpace(sc.Email))
	company.LoginEmail = email
	company.ContactEmail = email
	if sc.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(sc.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password for %q: %w", sc.Name, err)
		}
		company.PasswordHash = string(hash)
	}

	company.WalletAddress = sc.WalletAddress
	company.Website = sc.Website
	company.Country = sc.Country
	company.Region = sc.Region
	company.Description = sc.Description
	company.Metrics = sc.Metrics
	if sc.Badges != nil {
		company.Badges = sc.Badges
	}
	if sc.PurchasedCredits != nil {
		company.PurchasedCredits = sc.PurchasedCredits
	}
	if sc.RetirementRecords != nil {
		company.RetirementRecords = sc.RetirementRecords
	}
	if sc.Transactions != nil {
		company.Transactions = sc.Transactions
	}

	company.VerifierMetrics = sc.VerifierMetrics
	if company.IsSeller() && company.VerifierMetrics == nil {
		company.VerifierMetrics = &companies.VerifierMetrics{}
	}

	if fields := company.Validate(); len(fields) > 0 {
		return nil, fmt.Errorf("seed company %q is invalid: %v", sc.Name, fields)
	}
	return company, nil
}

// createProject inserts sp for seller. With derive set the seller's project
// totals are accumulated instead of taken from the dataset.
func (s *Seeder) createProject(ctx context.Context, seller *companies.Company, sp SeedProject, derive bool) error {
	project := projects.New(sp.Name, sp.ProjectType)
	project.Slug = projects.SlugFor(project.Name, project.ProjectID)
	project.Description = sp.Description
	project.Country = sp.Country
	project.Region = sp.Region
	project.Location = sp.Location
	project.TotalCredits = sp.TotalCredits
	project.SoldCredits = sp.SoldCredits
	project.TonsAvailable = sp.TotalCredits - sp.SoldCredits
	project.PricePerTonUsd = sp.PricePerTonUsd
	project.Vintage = sp.Vintage
	project.VerifierRegistry = sp.VerifierRegistry
	project.ListingImageURL = sp.ListingImageURL
	if sp.Status != "" {
		project.Status = sp.Status
	}
	project.SellerCompany = seller.ID
	project.SellerCompanyID = seller.CompanyID

	if fields := project.Validate(); len(fields) > 0 {
		return fmt.Errorf("seed project %q is invalid: %v", sp.Name, fields)
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return fmt.Errorf("failed to create project %q: %w", sp.Name, err)
	}

	metrics := seller.SellerMetrics()
	if derive {
		metrics.TotalProjects++
		metrics.CreditsIssued = money.AddTons(metrics.CreditsIssued, project.TotalCredits)
		seller.VerifierMetrics = &metrics
	}
	if err := s.companies.AddProject(ctx, seller.CompanyID, seller.Version, project.ID, metrics); err != nil {
		return fmt.Errorf("failed to link project %q: %w", sp.Name, err)
	}
	seller.Version++
	return nil
}
