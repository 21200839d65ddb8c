package companies

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/ledger"
)

// Type is the marketplace role of a company.
type Type string

const (
	TypeBuyer  Type = "buyer"
	TypeSeller Type = "seller"
)

// AuthProvider records how a company signs in.
type AuthProvider string

const (
	AuthProviderLocal  AuthProvider = "local"
	AuthProviderGoogle AuthProvider = "google"
)

// Role grants platform permissions.
type Role string

const (
	RoleCompany Role = "company"
	RoleAdmin   Role = "admin"
)

// Metrics are the cached buyer aggregates.
type Metrics struct {
	TotalCo2OffsetTons float64 `bson:"totalCo2OffsetTons" json:"totalCo2OffsetTons"`
	ActiveCredits      float64 `bson:"activeCredits" json:"activeCredits"`
	RetiredCredits     float64 `bson:"retiredCredits" json:"retiredCredits"`
	TotalInvestedUsd   float64 `bson:"totalInvestedUsd" json:"totalInvestedUsd"`
}

// VerifierMetrics are the cached seller aggregates.
type VerifierMetrics struct {
	TotalProjects int     `bson:"totalProjects" json:"totalProjects"`
	CreditsIssued float64 `bson:"creditsIssued" json:"creditsIssued"`
	CreditsSold   float64 `bson:"creditsSold" json:"creditsSold"`
	RevenueUsd    float64 `bson:"revenueUsd" json:"revenueUsd"`
}

// Company is a buyer or seller account together with its embedded ledger.
type Company struct {
	ID                primitive.ObjectID        `bson:"_id,omitempty" json:"id"`
	CompanyID         string                    `bson:"companyId" json:"companyId"`
	Name              string                    `bson:"name" json:"name"`
	Slug              string                    `bson:"slug" json:"slug"`
	Type              Type                      `bson:"type" json:"type"`
	WalletAddress     string                    `bson:"walletAddress,omitempty" json:"walletAddress,omitempty"`
	ContactEmail      string                    `bson:"contactEmail,omitempty" json:"contactEmail,omitempty"`
	Website           string                    `bson:"website,omitempty" json:"website,omitempty"`
	Country           string                    `bson:"country,omitempty" json:"country,omitempty"`
	Region            string                    `bson:"region,omitempty" json:"region,omitempty"`
	Description       string                    `bson:"description,omitempty" json:"description,omitempty"`
	Badges            []string                  `bson:"badges" json:"badges"`
	Metrics           Metrics                   `bson:"metrics" json:"metrics"`
	VerifierMetrics   *VerifierMetrics          `bson:"verifierMetrics,omitempty" json:"verifierMetrics,omitempty"`
	PurchasedCredits  []ledger.PurchasedCredit  `bson:"purchasedCredits" json:"purchasedCredits"`
	RetirementRecords []ledger.RetirementRecord `bson:"retirementRecords" json:"retirementRecords"`
	Transactions      []ledger.Transaction      `bson:"transactions" json:"transactions"`
	Projects          []primitive.ObjectID      `bson:"projects" json:"projects"`
	LinkedProjects    []primitive.ObjectID      `bson:"linkedProjects" json:"linkedProjects"`
	GoogleID          string                    `bson:"googleId,omitempty" json:"-"`
	GooglePicture     string                    `bson:"googlePicture,omitempty" json:"googlePicture,omitempty"`
	AuthProvider      AuthProvider              `bson:"authProvider" json:"authProvider"`
	Role              Role                      `bson:"role" json:"role"`
	LoginEmail        string                    `bson:"loginEmail,omitempty" json:"loginEmail,omitempty"`
	PasswordHash      string                    `bson:"passwordHash,omitempty" json:"-"`
	Version           int64                     `bson:"version" json:"-"`
	CreatedAt         time.Time                 `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time                 `bson:"updatedAt" json:"updatedAt"`
}

// New returns a company with a fresh companyId and empty ledger.
func New(name string, companyType Type, provider AuthProvider) *Company {
	now := time.Now().UTC()
	return &Company{
		CompanyID:         uuid.NewString(),
		Name:              strings.TrimSpace(name),
		Type:              companyType,
		Badges:            []string{},
		PurchasedCredits:  []ledger.PurchasedCredit{},
		RetirementRecords: []ledger.RetirementRecord{},
		Transactions:      []ledger.Transaction{},
		Projects:          []primitive.ObjectID{},
		LinkedProjects:    []primitive.ObjectID{},
		AuthProvider:      provider,
		Role:              RoleCompany,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsSeller reports whether the company may own projects.
func (c *Company) IsSeller() bool {
	return c.Type == TypeSeller
}

// IsAdmin reports whether the company has the administrator role.
func (c *Company) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// SellerMetrics returns the verifier metrics, defaulting to zeros for
// companies that have never sold.
func (c *Company) SellerMetrics() VerifierMetrics {
	if c.VerifierMetrics == nil {
		return VerifierMetrics{}
	}
	return *c.VerifierMetrics
}

// FindCredit returns the index of the purchased credit with tokenID, or -1.
func (c *Company) FindCredit(tokenID string) int {
	for i, credit := range c.PurchasedCredits {
		if credit.TokenID == tokenID {
			return i
		}
	}
	return -1
}

// FindRetirement returns the retirement record carrying certificateID.
func (c *Company) FindRetirement(certificateID string) (ledger.RetirementRecord, bool) {
	for _, record := range c.RetirementRecords {
		if record.CertificateID == certificateID {
			return record, true
		}
	}
	return ledger.RetirementRecord{}, false
}

// Summary is the public directory view of a company.
type Summary struct {
	CompanyID     string   `json:"companyId"`
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	Type          Type     `json:"type"`
	Country       string   `json:"country,omitempty"`
	Region        string   `json:"region,omitempty"`
	Website       string   `json:"website,omitempty"`
	Description   string   `json:"description,omitempty"`
	Badges        []string `json:"badges"`
	GooglePicture string   `json:"googlePicture,omitempty"`
}

// Summarize strips the ledger and credentials from c.
func (c *Company) Summarize() Summary {
	badges := c.Badges
	if badges == nil {
		badges = []string{}
	}
	return Summary{
		CompanyID:     c.CompanyID,
		Name:          c.Name,
		Slug:          c.Slug,
		Type:          c.Type,
		Country:       c.Country,
		Region:        c.Region,
		Website:       c.Website,
		Description:   c.Description,
		Badges:        badges,
		GooglePicture: c.GooglePicture,
	}
}

// ListFilter narrows company listings.
type ListFilter struct {
	Type Type
	// WithLedger loads the embedded ledger arrays.
	WithLedger bool
}

// ProfileUpdate carries the self-service editable fields.
type ProfileUpdate struct {
	Name          string `json:"name"`
	WalletAddress string `json:"walletAddress"`
	ContactEmail  string `json:"contactEmail"`
	Website       string `json:"website"`
	Country       string `json:"country"`
	Region        string `json:"region"`
	Description   string `json:"description"`
}

// Validate checks a company before it is written.
func (c *Company) Validate() []apperrors.FieldError {
	var fields []apperrors.FieldError
	add := func(field, code, message string) {
		fields = append(fields, apperrors.FieldError{Field: field, Code: code, Message: message})
	}

	if c.CompanyID == "" {
		add("companyId", "required", "companyId is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		add("name", "required", "name is required")
	}
	if c.Slug == "" {
		add("slug", "required", "slug is required")
	}
	if c.Type != TypeBuyer && c.Type != TypeSeller {
		add("type", "enum", "type must be buyer or seller")
	}
	if c.AuthProvider != AuthProviderLocal && c.AuthProvider != AuthProviderGoogle {
		add("authProvider", "enum", "authProvider must be local or google")
	}
	if c.Role != RoleCompany && c.Role != RoleAdmin {
		add("role", "enum", "role must be company or admin")
	}

	for name, value := range map[string]float64{
		"metrics.totalCo2OffsetTons": c.Metrics.TotalCo2OffsetTons,
		"metrics.activeCredits":      c.Metrics.ActiveCredits,
		"metrics.retiredCredits":     c.Metrics.RetiredCredits,
		"metrics.totalInvestedUsd":   c.Metrics.TotalInvestedUsd,
	} {
		if value < 0 {
			add(name, "min", name+" must not be negative")
		}
	}

	for i, credit := range c.PurchasedCredits {
		fields = append(fields, credit.Validate("purchasedCredits."+strconv.Itoa(i)+".")...)
	}
	for i, record := range c.RetirementRecords {
		fields = append(fields, record.Validate("retirementRecords."+strconv.Itoa(i)+".")...)
	}
	for i, tx := range c.Transactions {
		fields = append(fields, tx.Validate("transactions."+strconv.Itoa(i)+".")...)
	}
	return fields
}
