// Package retirement retires purchased credits and serves their
// certificates.
package retirement

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/cache"
	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/identity"
	"csquare/marketplace/marketplace-backend/internal/ledger"
	"csquare/marketplace/marketplace-backend/internal/metrics"
	"csquare/marketplace/marketplace-backend/internal/notifications"
	"csquare/marketplace/marketplace-backend/internal/reports/export"
	"csquare/marketplace/marketplace-backend/pkg/money"
	"csquare/marketplace/marketplace-backend/pkg/storage"
	"csquare/marketplace/marketplace-backend/pkg/workflows"
)

const pdfContentType = "application/pdf"

// Result is the response body of a retirement.
type Result struct {
	RetirementRecord ledger.RetirementRecord `json:"retirementRecord"`
	Transaction      ledger.Transaction      `json:"transaction"`
	Metrics          companies.Metrics       `json:"metrics"`
	CertificateURL   string                  `json:"certificateUrl,omitempty"`
}

// Service handles credit retirement
type Service struct {
	companies    companies.Repository
	certificates *export.CertificateGenerator
	store        storage.ObjectStore
	presignTTL   time.Duration
	cache        cache.Cache
	events       notifications.Publisher
	lifecycle    *workflows.StateMachine
	logger       *zap.Logger
	now          func() time.Time
}

// Options wires the optional collaborators of the service.
type Options struct {
	// Store is nil when certificate storage is not configured.
	Store      storage.ObjectStore
	PresignTTL time.Duration
	Cache      cache.Cache
	Events     notifications.Publisher
}

// NewService creates a new retirement service
func NewService(companyRepo companies.Repository, opts Options, logger *zap.Logger) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryCache(time.Minute)
	}
	if opts.Events == nil {
		opts.Events = notifications.NewDispatcher(logger)
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	return &Service{
		companies:    companyRepo,
		certificates: export.NewCertificateGenerator(),
		store:        opts.Store,
		presignTTL:   opts.PresignTTL,
		cache:        opts.Cache,
		events:       opts.Events,
		lifecycle:    workflows.NewStateMachine(),
		logger:       logger,
		now:          time.Now,
	}
}

// Retire retires the caller's purchased credit tokenID.
func (s *Service) Retire(ctx context.Context, caller identity.Identity, tokenID string) (result *Result, err error) {
	defer func() {
		switch {
		case err == nil:
			metrics.RecordRetirement("success")
		case apperrors.IsKind(err, apperrors.KindConflict):
			metrics.RecordRetirement("conflict")
		default:
			metrics.RecordRetirement("rejected")
		}
	}()

	company, err := s.companies.FindByCompanyID(ctx, caller.CompanyID)
	if err != nil {
		return nil, companies.MapError(err)
	}

	idx := company.FindCredit(tokenID)
	if idx < 0 {
		return nil, apperrors.NotFound("Credit %s not found", tokenID)
	}
	credit := company.PurchasedCredits[idx]
	if err := s.lifecycle.Transition(credit.Status, ledger.StatusRetired); err != nil {
		if credit.Status == ledger.StatusRetired {
			return nil, apperrors.Conflict("Credit %s has already been retired", tokenID)
		}
		return nil, apperrors.Validation("Credit %s cannot be retired", tokenID)
	}

	now := s.now().UTC()
	verifier := credit.Verifier
	if verifier == "" {
		verifier = ledger.DefaultVerifier
	}
	record := ledger.RetirementRecord{
		TokenID:         credit.TokenID,
		ProjectName:     credit.ProjectName,
		TonsRetired:     credit.Tons,
		RetiredDate:     now,
		TransactionHash: ledger.NewTransactionHash(),
		CertificateID:   ledger.NewCertificateID(),
		Verifier:        verifier,
	}
	tx := ledger.Transaction{
		TransactionType: ledger.TransactionRetire,
		TokenID:         credit.TokenID,
		ProjectName:     credit.ProjectName,
		AmountTons:      credit.Tons,
		From:            company.Name,
		TransactionHash: record.TransactionHash,
		OccurredAt:      now,
	}

	updated := company.Metrics
	updated.ActiveCredits = money.SubTonsFloor(updated.ActiveCredits, credit.Tons)
	updated.RetiredCredits = money.AddTons(updated.RetiredCredits, credit.Tons)

	record.CertificateKey = s.storeCertificate(ctx, company, record)

	if err := s.companies.RecordRetirement(ctx, company.CompanyID, company.Version, record, tx, updated); err != nil {
		s.discardCertificate(ctx, record.CertificateKey)
		if errors.Is(err, companies.ErrVersionConflict) {
			return nil, apperrors.Conflict("Company was modified concurrently, please retry")
		}
		return nil, apperrors.Internal("Unable to retire credit", err)
	}

	s.logger.Info("Credit retired",
		zap.String("company_id", company.CompanyID),
		zap.String("token_id", tokenID),
		zap.String("certificate_id", record.CertificateID),
		zap.Float64("tons", credit.Tons))

	s.afterRetire(ctx, company, record)

	result = &Result{RetirementRecord: record, Transaction: tx, Metrics: updated}
	if record.CertificateKey != "" {
		url, err := s.store.PresignedURL(ctx, record.CertificateKey, s.presignTTL)
		if err != nil {
			s.logger.Warn("Failed to presign certificate", zap.String("certificate_id", record.CertificateID), zap.Error(err))
		} else {
			result.CertificateURL = url
		}
	}
	return result, nil
}

// Certificate renders the PDF of certificateID for its owner or an admin.
func (s *Service) Certificate(ctx context.Context, caller identity.Identity, certificateID string) ([]byte, error) {
	company, err := s.companies.FindByCertificateID(ctx, certificateID)
	if err != nil {
		if errors.Is(err, companies.ErrNotFound) {
			return nil, apperrors.NotFound("Certificate not found")
		}
		return nil, fmt.Errorf("failed to load certificate owner: %w", err)
	}
	if company.CompanyID != caller.CompanyID && !caller.IsAdmin() {
		return nil, apperrors.Forbidden("You do not have access to this certificate")
	}

	record, ok := company.FindRetirement(certificateID)
	if !ok {
		return nil, apperrors.NotFound("Certificate not found")
	}
	pdf, err := s.certificates.Render(certificateFor(company, record))
	if err != nil {
		return nil, apperrors.Internal("Unable to render certificate", err)
	}
	return pdf, nil
}

func (s *Service) storeCertificate(ctx context.Context, company *companies.Company, record ledger.RetirementRecord) string {
	if s.store == nil {
		return ""
	}
	pdf, err := s.certificates.Render(certificateFor(company, record))
	if err != nil {
		s.logger.Warn("Failed to render certificate", zap.String("certificate_id", record.CertificateID), zap.Error(err))
		return ""
	}
	key := fmt.Sprintf("certificates/%s/%s.pdf", company.CompanyID, record.CertificateID)
	if err := s.store.Upload(ctx, key, pdfContentType, bytes.NewReader(pdf)); err != nil {
		s.logger.Warn("Failed to upload certificate", zap.String("certificate_id", record.CertificateID), zap.Error(err))
		return ""
	}
	return key
}

func (s *Service) discardCertificate(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("Failed to delete orphaned certificate", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) afterRetire(ctx context.Context, company *companies.Company, record ledger.RetirementRecord) {
	ctx = context.WithoutCancel(ctx)

	cache.Invalidate(ctx, s.cache, s.logger, cache.PrefixExplorer)

	event := notifications.NewEvent(notifications.EventCreditRetired, record.RetiredDate)
	event.CompanyID = company.CompanyID
	event.CompanyName = company.Name
	event.CompanySlug = company.Slug
	event.ProjectName = record.ProjectName
	event.TokenID = record.TokenID
	event.Tons = record.TonsRetired
	event.TransactionHash = record.TransactionHash
	event.CertificateID = record.CertificateID
	_ = s.events.Publish(ctx, event)
}

func certificateFor(company *companies.Company, record ledger.RetirementRecord) export.Certificate {
	return export.Certificate{
		CertificateID:   record.CertificateID,
		CompanyName:     company.Name,
		ProjectName:     record.ProjectName,
		TokenID:         record.TokenID,
		Tons:            record.TonsRetired,
		Verifier:        record.Verifier,
		TransactionHash: record.TransactionHash,
		RetiredDate:     record.RetiredDate,
	}
}
