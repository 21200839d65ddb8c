package projects

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/ledger"
	"csquare/marketplace/marketplace-backend/pkg/money"
	"csquare/marketplace/marketplace-backend/pkg/slugify"
)

// Status is the listing state of a project.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusRetired  Status = "retired"
	StatusDraft    Status = "draft"
)

// IsValid reports whether s is a known project status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusRetired, StatusDraft:
		return true
	}
	return false
}

// Project is an offset project listed by a seller company.
type Project struct {
	ID               primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	ProjectID        string               `bson:"projectId" json:"projectId"`
	Name             string               `bson:"name" json:"name"`
	Slug             string               `bson:"slug" json:"slug"`
	Description      string               `bson:"description,omitempty" json:"description,omitempty"`
	ProjectType      ledger.ProjectType   `bson:"projectType" json:"projectType"`
	Country          string               `bson:"country,omitempty" json:"country,omitempty"`
	Region           string               `bson:"region,omitempty" json:"region,omitempty"`
	Location         string               `bson:"location,omitempty" json:"location,omitempty"`
	TotalCredits     float64              `bson:"totalCredits" json:"totalCredits"`
	SoldCredits      float64              `bson:"soldCredits" json:"soldCredits"`
	TonsAvailable    float64              `bson:"tonsAvailable" json:"tonsAvailable"`
	PricePerTonUsd   float64              `bson:"pricePerTonUsd" json:"pricePerTonUsd"`
	Vintage          string               `bson:"vintage,omitempty" json:"vintage,omitempty"`
	Status           Status               `bson:"status" json:"status"`
	VerifierRegistry string               `bson:"verifierRegistry,omitempty" json:"verifierRegistry,omitempty"`
	ListingImageURL  string               `bson:"listingImageUrl,omitempty" json:"listingImageUrl,omitempty"`
	AddedDate        time.Time            `bson:"addedDate" json:"addedDate"`
	SellerCompany    primitive.ObjectID   `bson:"sellerCompany,omitempty" json:"sellerCompany,omitempty"`
	SellerCompanyID  string               `bson:"sellerCompanyId" json:"sellerCompanyId"`
	LinkedCompanies  []primitive.ObjectID `bson:"linkedCompanies" json:"linkedCompanies"`
	LinkedCompanyIDs []string             `bson:"linkedCompanyIds" json:"linkedCompanyIds"`
	Version          int64                `bson:"version" json:"-"`
	CreatedAt        time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// New returns an active project with a fresh projectId.
func New(name string, projectType ledger.ProjectType) *Project {
	now := time.Now().UTC()
	return &Project{
		ProjectID:        uuid.NewString(),
		Name:             strings.TrimSpace(name),
		ProjectType:      projectType,
		Status:           StatusActive,
		AddedDate:        now,
		LinkedCompanies:  []primitive.ObjectID{},
		LinkedCompanyIDs: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// SlugFor derives the project slug; the projectId suffix keeps it unique.
func SlugFor(name, projectID string) string {
	return slugify.Make(name + "-" + projectID)
}

// Verifier returns the registry recorded on credits issued from p.
func (p *Project) Verifier() string {
	if v := strings.TrimSpace(p.VerifierRegistry); v != "" {
		return v
	}
	return ledger.DefaultVerifier
}

// Purchasable reports whether p is listed on the marketplace.
func (p *Project) Purchasable() bool {
	return p.Status == StatusActive && p.TonsAvailable > 0
}

// Restock returns the tons of a cancelled sale to p.
func (p *Project) Restock(tons float64) {
	p.TonsAvailable = money.AddTons(p.TonsAvailable, tons)
	p.SoldCredits = money.SubTonsFloor(p.SoldCredits, tons)
}

// Validate checks a project before it is written.
func (p *Project) Validate() []apperrors.FieldError {
	var fields []apperrors.FieldError
	add := func(field, code, message string) {
		fields = append(fields, apperrors.FieldError{Field: field, Code: code, Message: message})
	}

	if p.ProjectID == "" {
		add("projectId", "required", "projectId is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		add("name", "required", "name is required")
	}
	if !p.ProjectType.IsValid() {
		add("projectType", "enum", "projectType must be one of Forest Protection, Renewable Energy, Carbon Capture, Other")
	}
	if !p.Status.IsValid() {
		add("status", "enum", "status must be active, inactive, retired or draft")
	}
	if p.SellerCompanyID == "" {
		add("sellerCompanyId", "required", "sellerCompanyId is required")
	}
	for _, n := range []struct {
		field string
		value float64
	}{
		{"totalCredits", p.TotalCredits},
		{"soldCredits", p.SoldCredits},
		{"tonsAvailable", p.TonsAvailable},
		{"pricePerTonUsd", p.PricePerTonUsd},
	} {
		if n.value < 0 {
			add(n.field, "min", n.field+" must not be negative")
		}
	}
	return fields
}

// Number accepts a JSON number or a numeric string. Empty strings and null
// decode as zero.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		*n = Number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

// Input is the whitelist of fields an administrator may set. Nil fields
// are left untouched on update.
type Input struct {
	Name             *string `json:"name"`
	Description      *string `json:"description"`
	ProjectType      *string `json:"projectType"`
	Country          *string `json:"country"`
	Region           *string `json:"region"`
	Location         *string `json:"location"`
	TotalCredits     *Number `json:"totalCredits"`
	SoldCredits      *Number `json:"soldCredits"`
	TonsAvailable    *Number `json:"tonsAvailable"`
	PricePerTonUsd   *Number `json:"pricePerTonUsd"`
	Vintage          *string `json:"vintage"`
	Status           *string `json:"status"`
	VerifierRegistry *string `json:"verifierRegistry"`
	ListingImageURL  *string `json:"listingImageUrl"`
}

// Empty reports whether no whitelisted field was supplied.
func (in Input) Empty() bool {
	return in.Name == nil && in.Description == nil && in.ProjectType == nil &&
		in.Country == nil && in.Region == nil && in.Location == nil &&
		in.TotalCredits == nil && in.SoldCredits == nil && in.TonsAvailable == nil &&
		in.PricePerTonUsd == nil && in.Vintage == nil && in.Status == nil &&
		in.VerifierRegistry == nil && in.ListingImageURL == nil
}

// MissingRequired lists the required fields absent from a create request.
func (in Input) MissingRequired() []string {
	var missing []string
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		missing = append(missing, "name")
	}
	if in.ProjectType == nil || strings.TrimSpace(*in.ProjectType) == "" {
		missing = append(missing, "projectType")
	}
	return missing
}

// Apply copies the supplied fields onto p.
func (in Input) Apply(p *Project) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setNumber := func(dst *float64, src *Number) {
		if src != nil {
			*dst = float64(*src)
		}
	}

	setString(&p.Name, in.Name)
	setString(&p.Description, in.Description)
	if in.ProjectType != nil {
		p.ProjectType = ledger.ProjectType(strings.TrimSpace(*in.ProjectType))
	}
	setString(&p.Country, in.Country)
	setString(&p.Region, in.Region)
	setString(&p.Location, in.Location)
	setNumber(&p.TotalCredits, in.TotalCredits)
	setNumber(&p.SoldCredits, in.SoldCredits)
	setNumber(&p.TonsAvailable, in.TonsAvailable)
	setNumber(&p.PricePerTonUsd, in.PricePerTonUsd)
	setString(&p.Vintage, in.Vintage)
	if in.Status != nil {
		p.Status = Status(strings.ToLower(strings.TrimSpace(*in.Status)))
	}
	setString(&p.VerifierRegistry, in.VerifierRegistry)
	setString(&p.ListingImageURL, in.ListingImageURL)
}

// Facets are the distinct filter values across purchasable projects.
type Facets struct {
	ProjectTypes []string `json:"projectTypes"`
	Countries    []string `json:"countries"`
}
