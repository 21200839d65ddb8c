package projects

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding projects.
const CollectionName = "projects"

const restoreAttempts = 5

var (
	// ErrNotFound is returned when no project matches a lookup.
	ErrNotFound = errors.New("project not found")
	// ErrVersionConflict is returned when a conditional write lost a race.
	ErrVersionConflict = errors.New("project was modified concurrently")
	// ErrDuplicate is returned when projectId or slug is already taken.
	ErrDuplicate = errors.New("project already exists")
)

// Repository defines the data access methods for projects
type Repository interface {
	Create(ctx context.Context, project *Project) error
	FindByProjectID(ctx context.Context, projectID string) (*Project, error)
	Resolve(ctx context.Context, identifier string) (*Project, error)
	ListAvailable(ctx context.Context) ([]Project, error)
	ListBySeller(ctx context.Context, sellerCompanyID string) ([]Project, error)
	ListByProjectIDs(ctx context.Context, projectIDs []string) ([]Project, error)
	SearchAvailable(ctx context.Context, query string) ([]Project, error)
	Facets(ctx context.Context) (Facets, error)
	SellerTotals(ctx context.Context, sellerCompanyID string) (count int, creditsIssued float64, err error)

	Update(ctx context.Context, project *Project) error
	ApplySale(ctx context.Context, id primitive.ObjectID, version int64, tonsAvailable, soldCredits float64) error
	RestoreSale(ctx context.Context, id primitive.ObjectID, tons float64) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type mongoRepository struct {
	coll *mongo.Collection
}

// NewRepository creates a new MongoDB project repository
func NewRepository(db *mongo.Database) Repository {
	return &mongoRepository{coll: db.Collection(CollectionName)}
}

// EnsureIndexes creates the unique and listing indexes for projects.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(CollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "projectId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "sellerCompanyId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "tonsAvailable", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create project indexes: %w", err)
	}
	return nil
}

func availableFilter() bson.M {
	return bson.M{"status": StatusActive, "tonsAvailable": bson.M{"$gt": 0}}
}

func versionFilter(id primitive.ObjectID, version int64) bson.M {
	filter := bson.M{"_id": id}
	if version == 0 {
		filter["version"] = bson.M{"$in": bson.A{0, nil}}
	} else {
		filter["version"] = version
	}
	return filter
}

func (r *mongoRepository) Create(ctx context.Context, project *Project) error {
	res, err := r.coll.InsertOne(ctx, project)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert project: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		project.ID = oid
	}
	return nil
}

func (r *mongoRepository) findOne(ctx context.Context, filter bson.M) (*Project, error) {
	var project Project
	if err := r.coll.FindOne(ctx, filter).Decode(&project); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	return &project, nil
}

func (r *mongoRepository) FindByProjectID(ctx context.Context, projectID string) (*Project, error) {
	return r.findOne(ctx, bson.M{"projectId": projectID})
}

// Resolve looks a project up by public projectId, falling back to its
// ObjectID when identifier is a valid hex id.
func (r *mongoRepository) Resolve(ctx context.Context, identifier string) (*Project, error) {
	or := bson.A{bson.M{"projectId": identifier}}
	if oid, err := primitive.ObjectIDFromHex(identifier); err == nil {
		or = append(or, bson.M{"_id": oid})
	}
	return r.findOne(ctx, bson.M{"$or": or})
}

func (r *mongoRepository) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]Project, error) {
	cursor, err := r.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer cursor.Close(ctx)

	projects := []Project{}
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}
	return projects, nil
}

func (r *mongoRepository) ListAvailable(ctx context.Context) ([]Project, error) {
	opts := options.Find().SetSort(bson.D{{Key: "addedDate", Value: -1}})
	return r.find(ctx, availableFilter(), opts)
}

func (r *mongoRepository) ListBySeller(ctx context.Context, sellerCompanyID string) ([]Project, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	return r.find(ctx, bson.M{"sellerCompanyId": sellerCompanyID}, opts)
}

func (r *mongoRepository) ListByProjectIDs(ctx context.Context, projectIDs []string) ([]Project, error) {
	if len(projectIDs) == 0 {
		return []Project{}, nil
	}
	return r.find(ctx, bson.M{"projectId": bson.M{"$in": projectIDs}})
}

// SearchAvailable matches purchasable projects whose name, description,
// country or type contains query, case-insensitively.
func (r *mongoRepository) SearchAvailable(ctx context.Context, query string) ([]Project, error) {
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(strings.TrimSpace(query)), Options: "i"}
	filter := availableFilter()
	filter["$or"] = bson.A{
		bson.M{"name": pattern},
		bson.M{"description": pattern},
		bson.M{"country": pattern},
		bson.M{"projectType": pattern},
	}
	opts := options.Find().SetSort(bson.D{{Key: "addedDate", Value: -1}})
	return r.find(ctx, filter, opts)
}

func (r *mongoRepository) distinct(ctx context.Context, field string) ([]string, error) {
	values, err := r.coll.Distinct(ctx, field, availableFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to load %s facet: %w", field, err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *mongoRepository) Facets(ctx context.Context) (Facets, error) {
	types, err := r.distinct(ctx, "projectType")
	if err != nil {
		return Facets{}, err
	}
	countries, err := r.distinct(ctx, "country")
	if err != nil {
		return Facets{}, err
	}
	return Facets{ProjectTypes: types, Countries: countries}, nil
}

// SellerTotals counts a seller's projects and sums their issued credits.
func (r *mongoRepository) SellerTotals(ctx context.Context, sellerCompanyID string) (int, float64, error) {
	cursor, err := r.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"sellerCompanyId": sellerCompanyID}}},
		{{Key: "$group", Value: bson.M{
			"_id":           nil,
			"count":         bson.M{"$sum": 1},
			"creditsIssued": bson.M{"$sum": "$totalCredits"},
		}}},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate seller projects: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Count         int     `bson:"count"`
		CreditsIssued float64 `bson:"creditsIssued"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, 0, fmt.Errorf("failed to decode seller totals: %w", err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	return rows[0].Count, rows[0].CreditsIssued, nil
}

// Update replaces the project when it is still at project.Version and bumps
// the version on success.
func (r *mongoRepository) Update(ctx context.Context, project *Project) error {
	next := *project
	next.Version = project.Version + 1
	next.UpdatedAt = time.Now().UTC()

	res, err := r.coll.ReplaceOne(ctx, versionFilter(project.ID, project.Version), &next)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update project: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	*project = next
	return nil
}

// ApplySale writes the post-purchase balances only if nobody else touched
// the project since it was read at version.
func (r *mongoRepository) ApplySale(ctx context.Context, id primitive.ObjectID, version int64, tonsAvailable, soldCredits float64) error {
	res, err := r.coll.UpdateOne(ctx, versionFilter(id, version), bson.M{
		"$set": bson.M{
			"tonsAvailable": tonsAvailable,
			"soldCredits":   soldCredits,
			"version":       version + 1,
			"updatedAt":     time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to debit project: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	return nil
}

// RestoreSale returns tons to the project after a failed purchase. The
// balances are re-read and written back rounded under a version check, so
// a sale that landed in between is kept.
func (r *mongoRepository) RestoreSale(ctx context.Context, id primitive.ObjectID, tons float64) error {
	for attempt := 0; attempt < restoreAttempts; attempt++ {
		project, err := r.findOne(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		project.Restock(tons)

		err = r.ApplySale(ctx, id, project.Version, project.TonsAvailable, project.SoldCredits)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return ErrVersionConflict
}

func (r *mongoRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
