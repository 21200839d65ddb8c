package companies

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"csquare/marketplace/marketplace-backend/internal/ledger"
)

// CollectionName is the MongoDB collection holding companies.
const CollectionName = "companies"

var (
	// ErrNotFound is returned when no company matches a lookup.
	ErrNotFound = errors.New("company not found")
	// ErrVersionConflict is returned when a conditional write lost a race.
	ErrVersionConflict = errors.New("company was modified concurrently")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("company already exists")
)

// Repository defines the data access methods for companies
type Repository interface {
	Create(ctx context.Context, company *Company) error
	FindByCompanyID(ctx context.Context, companyID string) (*Company, error)
	FindBySlug(ctx context.Context, slug string) (*Company, error)
	FindBySlugOrID(ctx context.Context, slugOrID string, restrictTo string) (*Company, error)
	FindByLoginEmail(ctx context.Context, email string) (*Company, error)
	FindByGoogleIDOrEmail(ctx context.Context, googleID, email string) (*Company, error)
	FindByCertificateID(ctx context.Context, certificateID string) (*Company, error)
	List(ctx context.Context, filter ListFilter) ([]Company, error)
	ListByCompanyIDs(ctx context.Context, companyIDs []string) ([]Company, error)
	SlugExists(ctx context.Context, slug, excludeCompanyID string) (bool, error)
	NameExists(ctx context.Context, name, excludeCompanyID string) (bool, error)

	UpdateProfile(ctx context.Context, companyID string, update ProfileUpdate, slug string) error
	LinkGoogle(ctx context.Context, companyID, googleID, picture string) error

	AppendPurchase(ctx context.Context, companyID string, version int64, credit ledger.PurchasedCredit, tx ledger.Transaction, metrics Metrics) error
	RevertPurchase(ctx context.Context, companyID, tokenID, txHash string, metrics Metrics) error
	AppendSale(ctx context.Context, companyID string, version int64, tx ledger.Transaction, metrics VerifierMetrics) error
	RecordRetirement(ctx context.Context, companyID string, version int64, record ledger.RetirementRecord, tx ledger.Transaction, metrics Metrics) error

	AddProject(ctx context.Context, companyID string, version int64, projectID primitive.ObjectID, metrics VerifierMetrics) error
	RemoveProject(ctx context.Context, companyID string, version int64, projectID primitive.ObjectID, metrics VerifierMetrics) error
	PullProject(ctx context.Context, projectID primitive.ObjectID) error
	ReplaceSellerMetrics(ctx context.Context, companyID string, version int64, metrics VerifierMetrics) error
	ReplaceMetrics(ctx context.Context, companyID string, version int64, metrics Metrics, verifier *VerifierMetrics) error
}

type mongoRepository struct {
	coll *mongo.Collection
}

// NewRepository creates a new MongoDB company repository
func NewRepository(db *mongo.Database) Repository {
	return &mongoRepository{coll: db.Collection(CollectionName)}
}

// EnsureIndexes creates the unique and lookup indexes for companies.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(CollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "companyId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "loginEmail", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "googleId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "type", Value: 1}}},
		{Keys: bson.D{{Key: "purchasedCredits.tokenId", Value: 1}}},
		{Keys: bson.D{{Key: "retirementRecords.certificateId", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to create company indexes: %w", err)
	}
	return nil
}

// versionFilter matches documents at the expected version. Documents written
// before versioning have no version field and count as version 0.
func versionFilter(companyID string, version int64) bson.M {
	filter := bson.M{"companyId": companyID}
	if version == 0 {
		filter["version"] = bson.M{"$in": bson.A{0, nil}}
	} else {
		filter["version"] = version
	}
	return filter
}

var ledgerProjection = bson.M{
	"purchasedCredits":  0,
	"retirementRecords": 0,
	"transactions":      0,
	"passwordHash":      0,
}

func (r *mongoRepository) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*Company, error) {
	var company Company
	if err := r.coll.FindOne(ctx, filter, opts...).Decode(&company); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find company: %w", err)
	}
	return &company, nil
}

func (r *mongoRepository) Create(ctx context.Context, company *Company) error {
	res, err := r.coll.InsertOne(ctx, company)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert company: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		company.ID = oid
	}
	return nil
}

func (r *mongoRepository) FindByCompanyID(ctx context.Context, companyID string) (*Company, error) {
	return r.findOne(ctx, bson.M{"companyId": companyID})
}

func (r *mongoRepository) FindBySlug(ctx context.Context, slug string) (*Company, error) {
	return r.findOne(ctx, bson.M{"slug": slug})
}

// FindBySlugOrID resolves a company by slug or companyId. A non-empty
// restrictTo limits the match to that companyId.
func (r *mongoRepository) FindBySlugOrID(ctx context.Context, slugOrID string, restrictTo string) (*Company, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"slug": slugOrID},
		bson.M{"companyId": slugOrID},
	}}
	if restrictTo != "" {
		filter["companyId"] = restrictTo
	}
	return r.findOne(ctx, filter)
}

func (r *mongoRepository) FindByLoginEmail(ctx context.Context, email string) (*Company, error) {
	return r.findOne(ctx, bson.M{"loginEmail": email})
}

func (r *mongoRepository) FindByGoogleIDOrEmail(ctx context.Context, googleID, email string) (*Company, error) {
	or := bson.A{bson.M{"googleId": googleID}}
	if email != "" {
		or = append(or, bson.M{"contactEmail": email}, bson.M{"loginEmail": email})
	}
	return r.findOne(ctx, bson.M{"$or": or})
}

func (r *mongoRepository) FindByCertificateID(ctx context.Context, certificateID string) (*Company, error) {
	return r.findOne(ctx, bson.M{"retirementRecords.certificateId": certificateID})
}

func (r *mongoRepository) List(ctx context.Context, filter ListFilter) ([]Company, error) {
	query := bson.M{}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	if !filter.WithLedger {
		opts.SetProjection(ledgerProjection)
	} else {
		opts.SetProjection(bson.M{"passwordHash": 0})
	}
	return r.find(ctx, query, opts)
}

func (r *mongoRepository) ListByCompanyIDs(ctx context.Context, companyIDs []string) ([]Company, error) {
	if len(companyIDs) == 0 {
		return []Company{}, nil
	}
	opts := options.Find().SetProjection(ledgerProjection)
	return r.find(ctx, bson.M{"companyId": bson.M{"$in": companyIDs}}, opts)
}

func (r *mongoRepository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]Company, error) {
	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer cursor.Close(ctx)

	companies := []Company{}
	if err := cursor.All(ctx, &companies); err != nil {
		return nil, fmt.Errorf("failed to decode companies: %w", err)
	}
	return companies, nil
}

func (r *mongoRepository) exists(ctx context.Context, filter bson.M, excludeCompanyID string) (bool, error) {
	if excludeCompanyID != "" {
		filter["companyId"] = bson.M{"$ne": excludeCompanyID}
	}
	count, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to count companies: %w", err)
	}
	return count > 0, nil
}

func (r *mongoRepository) SlugExists(ctx context.Context, slug, excludeCompanyID string) (bool, error) {
	return r.exists(ctx, bson.M{"slug": slug}, excludeCompanyID)
}

// NameExists matches names case-insensitively.
func (r *mongoRepository) NameExists(ctx context.Context, name, excludeCompanyID string) (bool, error) {
	pattern := "^" + regexp.QuoteMeta(name) + "$"
	return r.exists(ctx, bson.M{"name": primitive.Regex{Pattern: pattern, Options: "i"}}, excludeCompanyID)
}

func (r *mongoRepository) updateOne(ctx context.Context, filter bson.M, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update company: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// updateVersioned applies update only when the document is still at
// version; a miss is reported as ErrVersionConflict.
func (r *mongoRepository) updateVersioned(ctx context.Context, companyID string, version int64, update bson.M) error {
	update["$set"].(bson.M)["version"] = version + 1
	err := r.updateOne(ctx, versionFilter(companyID, version), update)
	if errors.Is(err, ErrNotFound) {
		return ErrVersionConflict
	}
	return err
}

func (r *mongoRepository) UpdateProfile(ctx context.Context, companyID string, update ProfileUpdate, slug string) error {
	return r.updateOne(ctx, bson.M{"companyId": companyID}, bson.M{
		"$set": bson.M{
			"name":          update.Name,
			"slug":          slug,
			"walletAddress": update.WalletAddress,
			"contactEmail":  update.ContactEmail,
			"website":       update.Website,
			"country":       update.Country,
			"region":        update.Region,
			"description":   update.Description,
			"updatedAt":     time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	})
}

func (r *mongoRepository) LinkGoogle(ctx context.Context, companyID, googleID, picture string) error {
	set := bson.M{"googleId": googleID, "updatedAt": time.Now().UTC()}
	if picture != "" {
		set["googlePicture"] = picture
	}
	return r.updateOne(ctx, bson.M{"companyId": companyID}, bson.M{"$set": set})
}

func (r *mongoRepository) AppendPurchase(ctx context.Context, companyID string, version int64, credit ledger.PurchasedCredit, tx ledger.Transaction, metrics Metrics) error {
	return r.updateVersioned(ctx, companyID, version, bson.M{
		"$set":  bson.M{"metrics": metrics, "updatedAt": time.Now().UTC()},
		"$push": bson.M{"purchasedCredits": credit, "transactions": tx},
	})
}

func (r *mongoRepository) RevertPurchase(ctx context.Context, companyID, tokenID, txHash string, metrics Metrics) error {
	return r.updateOne(ctx, bson.M{"companyId": companyID}, bson.M{
		"$set": bson.M{"metrics": metrics, "updatedAt": time.Now().UTC()},
		"$pull": bson.M{
			"purchasedCredits": bson.M{"tokenId": tokenID},
			"transactions":     bson.M{"transactionHash": txHash},
		},
		"$inc": bson.M{"version": 1},
	})
}

func (r *mongoRepository) AppendSale(ctx context.Context, companyID string, version int64, tx ledger.Transaction, metrics VerifierMetrics) error {
	return r.updateVersioned(ctx, companyID, version, bson.M{
		"$set":  bson.M{"verifierMetrics": metrics, "updatedAt": time.Now().UTC()},
		"$push": bson.M{"transactions": tx},
	})
}

func (r *mongoRepository) RecordRetirement(ctx context.Context, companyID string, version int64, record ledger.RetirementRecord, tx ledger.Transaction, metrics Metrics) error {
	update := bson.M{
		"$set": bson.M{
			"metrics":                           metrics,
			"purchasedCredits.$[credit].status": ledger.StatusRetired,
			"updatedAt":                         time.Now().UTC(),
			"version":                           version + 1,
		},
		"$push": bson.M{"retirementRecords": record, "transactions": tx},
	}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"credit.tokenId": record.TokenID}},
	})

	res, err := r.coll.UpdateOne(ctx, versionFilter(companyID, version), update, opts)
	if err != nil {
		return fmt.Errorf("failed to record retirement: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *mongoRepository) AddProject(ctx context.Context, companyID string, version int64, projectID primitive.ObjectID, metrics VerifierMetrics) error {
	return r.updateVersioned(ctx, companyID, version, bson.M{
		"$addToSet": bson.M{"projects": projectID},
		"$set":      bson.M{"verifierMetrics": metrics, "updatedAt": time.Now().UTC()},
	})
}

// RemoveProject unlinks a deleted project from its seller.
func (r *mongoRepository) RemoveProject(ctx context.Context, companyID string, version int64, projectID primitive.ObjectID, metrics VerifierMetrics) error {
	return r.updateVersioned(ctx, companyID, version, bson.M{
		"$pull": bson.M{"projects": projectID},
		"$set":  bson.M{"verifierMetrics": metrics, "updatedAt": time.Now().UTC()},
	})
}

// PullProject removes every reference to a deleted project.
func (r *mongoRepository) PullProject(ctx context.Context, projectID primitive.ObjectID) error {
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"$or": bson.A{bson.M{"projects": projectID}, bson.M{"linkedProjects": projectID}}},
		bson.M{
			"$pull": bson.M{"projects": projectID, "linkedProjects": projectID},
			"$inc":  bson.M{"version": 1},
		})
	if err != nil {
		return fmt.Errorf("failed to unlink project: %w", err)
	}
	return nil
}

func (r *mongoRepository) ReplaceSellerMetrics(ctx context.Context, companyID string, version int64, metrics VerifierMetrics) error {
	return r.updateVersioned(ctx, companyID, version, bson.M{
		"$set": bson.M{"verifierMetrics": metrics, "updatedAt": time.Now().UTC()},
	})
}

// ReplaceMetrics overwrites the cached metrics of a company still at version.
func (r *mongoRepository) ReplaceMetrics(ctx context.Context, companyID string, version int64, metrics Metrics, verifier *VerifierMetrics) error {
	set := bson.M{"metrics": metrics, "updatedAt": time.Now().UTC()}
	if verifier != nil {
		set["verifierMetrics"] = verifier
	}
	return r.updateVersioned(ctx, companyID, version, bson.M{"$set": set})
}
