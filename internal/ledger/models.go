// Package ledger defines the credit ledger entries embedded in company
// documents and the identifiers minted for them.
package ledger

import (
	"time"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/pkg/workflows"
)

// ProjectType classifies offset projects.
type ProjectType string

const (
	ProjectTypeForestProtection ProjectType = "Forest Protection"
	ProjectTypeRenewableEnergy  ProjectType = "Renewable Energy"
	ProjectTypeCarbonCapture    ProjectType = "Carbon Capture"
	ProjectTypeOther            ProjectType = "Other"
)

// ProjectTypes lists every accepted project type.
var ProjectTypes = []ProjectType{
	ProjectTypeForestProtection,
	ProjectTypeRenewableEnergy,
	ProjectTypeCarbonCapture,
	ProjectTypeOther,
}

// IsValid reports whether t is a known project type.
func (t ProjectType) IsValid() bool {
	for _, known := range ProjectTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Credit statuses.
const (
	StatusActive  = workflows.CreditActive
	StatusRetired = workflows.CreditRetired
)

// TransactionType is the kind of a ledger transaction.
type TransactionType string

const (
	TransactionMint     TransactionType = "mint"
	TransactionTransfer TransactionType = "transfer"
	TransactionRetire   TransactionType = "retire"
)

// DefaultVerifier is recorded when a project names no verifier registry.
const DefaultVerifier = "Not specified"

// MarketplaceCounterparty names the seller side when no seller company resolves.
const MarketplaceCounterparty = "Marketplace"

// PurchasedCredit is a buyer's holding from one purchase.
type PurchasedCredit struct {
	ProjectName    string      `bson:"projectName" json:"projectName"`
	ProjectType    ProjectType `bson:"projectType" json:"projectType"`
	Tons           float64     `bson:"tons" json:"tons"`
	PricePerTonUsd float64     `bson:"pricePerTonUsd" json:"pricePerTonUsd"`
	PurchaseDate   time.Time   `bson:"purchaseDate" json:"purchaseDate"`
	Status         string      `bson:"status" json:"status"`
	TokenID        string      `bson:"tokenId" json:"tokenId"`
	Verifier       string      `bson:"verifier" json:"verifier"`
}

// RetirementRecord is the terminal record of a retired credit.
type RetirementRecord struct {
	TokenID         string    `bson:"tokenId" json:"tokenId"`
	ProjectName     string    `bson:"projectName" json:"projectName"`
	TonsRetired     float64   `bson:"tonsRetired" json:"tonsRetired"`
	RetiredDate     time.Time `bson:"retiredDate" json:"retiredDate"`
	TransactionHash string    `bson:"transactionHash" json:"transactionHash"`
	CertificateID   string    `bson:"certificateId,omitempty" json:"certificateId,omitempty"`
	Verifier        string    `bson:"verifier" json:"verifier"`
	IPFSHash        string    `bson:"ipfsHash,omitempty" json:"ipfsHash,omitempty"`
	CertificateKey  string    `bson:"certificateKey,omitempty" json:"-"`
}

// Transaction is one entry of a company's transaction history.
type Transaction struct {
	TransactionType TransactionType `bson:"transactionType" json:"transactionType"`
	TokenID         string          `bson:"tokenId" json:"tokenId"`
	ProjectName     string          `bson:"projectName" json:"projectName"`
	AmountTons      float64         `bson:"amountTons" json:"amountTons"`
	From            string          `bson:"from,omitempty" json:"from,omitempty"`
	To              string          `bson:"to,omitempty" json:"to,omitempty"`
	TransactionHash string          `bson:"transactionHash" json:"transactionHash"`
	OccurredAt      time.Time       `bson:"occurredAt" json:"occurredAt"`
}

func required(fields []apperrors.FieldError, field, value string) []apperrors.FieldError {
	if value == "" {
		fields = append(fields, apperrors.FieldError{Field: field, Code: "required", Message: field + " is required"})
	}
	return fields
}

func nonNegative(fields []apperrors.FieldError, field string, value float64) []apperrors.FieldError {
	if value < 0 {
		fields = append(fields, apperrors.FieldError{Field: field, Code: "min", Message: field + " must not be negative"})
	}
	return fields
}

// Validate checks a purchased credit entry.
func (p PurchasedCredit) Validate(prefix string) []apperrors.FieldError {
	var fields []apperrors.FieldError
	fields = required(fields, prefix+"projectName", p.ProjectName)
	if !p.ProjectType.IsValid() {
		fields = append(fields, apperrors.FieldError{Field: prefix + "projectType", Code: "enum", Message: "unknown project type"})
	}
	fields = nonNegative(fields, prefix+"tons", p.Tons)
	fields = nonNegative(fields, prefix+"pricePerTonUsd", p.PricePerTonUsd)
	if p.PurchaseDate.IsZero() {
		fields = append(fields, apperrors.FieldError{Field: prefix + "purchaseDate", Code: "required", Message: "purchaseDate is required"})
	}
	if p.Status != StatusActive && p.Status != StatusRetired {
		fields = append(fields, apperrors.FieldError{Field: prefix + "status", Code: "enum", Message: "status must be active or retired"})
	}
	fields = required(fields, prefix+"tokenId", p.TokenID)
	fields = required(fields, prefix+"verifier", p.Verifier)
	return fields
}

// Validate checks a retirement record.
func (r RetirementRecord) Validate(prefix string) []apperrors.FieldError {
	var fields []apperrors.FieldError
	fields = required(fields, prefix+"tokenId", r.TokenID)
	fields = required(fields, prefix+"projectName", r.ProjectName)
	fields = nonNegative(fields, prefix+"tonsRetired", r.TonsRetired)
	if r.RetiredDate.IsZero() {
		fields = append(fields, apperrors.FieldError{Field: prefix + "retiredDate", Code: "required", Message: "retiredDate is required"})
	}
	fields = required(fields, prefix+"transactionHash", r.TransactionHash)
	fields = required(fields, prefix+"verifier", r.Verifier)
	return fields
}

// Validate checks a transaction entry.
func (t Transaction) Validate(prefix string) []apperrors.FieldError {
	var fields []apperrors.FieldError
	switch t.TransactionType {
	case TransactionMint, TransactionTransfer, TransactionRetire:
	default:
		fields = append(fields, apperrors.FieldError{Field: prefix + "transactionType", Code: "enum", Message: "transactionType must be mint, transfer or retire"})
	}
	fields = required(fields, prefix+"tokenId", t.TokenID)
	fields = required(fields, prefix+"projectName", t.ProjectName)
	fields = nonNegative(fields, prefix+"amountTons", t.AmountTons)
	fields = required(fields, prefix+"transactionHash", t.TransactionHash)
	if t.OccurredAt.IsZero() {
		fields = append(fields, apperrors.FieldError{Field: prefix + "occurredAt", Code: "required", Message: "occurredAt is required"})
	}
	return fields
}
