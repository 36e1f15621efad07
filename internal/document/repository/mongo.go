package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/regdocs/regdocs/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	documentsCollection = "documents"
	versionsCollection  = "document_versions"
)

// MongoRepo stores documents and versions in two collections. Multi-document
// transactions require a replica set (a single-node replica set is enough).
type MongoRepo struct {
	client   *mongo.Client
	docs     *mongo.Collection
	versions *mongo.Collection
}

var _ Store = (*MongoRepo)(nil)

// NewMongoRepo wires the collections of db and makes sure the indexes exist.
// The caller owns the client and disconnects it.
func NewMongoRepo(ctx context.Context, db *mongo.Database) (*MongoRepo, error) {
	m := &MongoRepo{
		client:   db.Client(),
		docs:     db.Collection(documentsCollection),
		versions: db.Collection(versionsCollection),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MongoRepo) ensureIndexes(ctx context.Context) error {
	_, err := m.docs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "externalKey", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "isActive", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("document indexes: %w", err)
	}
	_, err = m.versions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "externalKey", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys: bson.D{{Key: "documentId", Value: 1}},
			Options: options.Index().
				SetName("ux_versions_current").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"isCurrent": true}),
		},
		{Keys: bson.D{{Key: "documentId", Value: 1}, {Key: "validFrom", Value: -1}}},
		{Keys: bson.D{{Key: "indexStatus", Value: 1}, {Key: "updatedAt", Value: 1}}},
		{Keys: bson.D{{Key: "blob.path", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("version indexes: %w", err)
	}
	return nil
}

func (m *MongoRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	// WithTransaction re-runs the callback on transient write conflicts, which
	// is how two appends racing on the same document serialize.
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &mongoTx{repo: m})
	})
	return mapMongoErr(err)
}

func (m *MongoRepo) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return m.findDocument(ctx, id)
}

func (m *MongoRepo) GetVersion(ctx context.Context, id string) (*document.Version, error) {
	return m.findVersion(ctx, id)
}

func (m *MongoRepo) ListVersions(ctx context.Context, documentID string) ([]*document.Version, error) {
	return m.listVersions(ctx, documentID)
}

func (m *MongoRepo) ListDocuments(ctx context.Context, f document.Filter) ([]*document.Document, error) {
	q := bson.M{"isDeleted": bson.M{"$ne": true}}
	if s := strings.TrimSpace(f.Search); s != "" {
		q["title"] = primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
	}
	if f.Type != "" {
		q["type"] = string(f.Type)
	}
	if f.IsActive != nil {
		q["isActive"] = *f.IsActive
	}
	if f.ValidOn != nil {
		ids, err := m.versions.Distinct(ctx, "documentId", validOnQuery(*f.ValidOn))
		if err != nil {
			return nil, fmt.Errorf("list valid documents: %w", err)
		}
		q["_id"] = bson.M{"$in": ids}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := m.docs.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, cur.Err()
}

func validOnQuery(at time.Time) bson.M {
	return bson.M{
		"validFrom": bson.M{"$lte": at},
		"$or": bson.A{
			bson.M{"validTo": bson.M{"$exists": false}},
			bson.M{"validTo": nil},
			bson.M{"validTo": bson.M{"$gte": at}},
		},
	}
}

func (m *MongoRepo) CompareAndSetIndexStatus(ctx context.Context, versionID string, expected document.IndexStatus, u document.IndexUpdate) (*document.Version, error) {
	set := bson.M{"indexStatus": string(u.Status)}
	if u.IndexedAt != nil {
		set["indexedAt"] = *u.IndexedAt
	}
	if u.IndexError != nil {
		set["indexError"] = *u.IndexError
	}
	if !u.UpdatedAt.IsZero() {
		set["updatedAt"] = u.UpdatedAt
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var v document.Version
	err := m.versions.FindOneAndUpdate(ctx,
		bson.M{"_id": versionID, "indexStatus": string(expected)},
		bson.M{"$set": set}, opts).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := m.findVersion(ctx, versionID); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("compare-and-set index status: %w", err)
	}
	return &v, nil
}

func (m *MongoRepo) ListVersionsByIndexStatus(ctx context.Context, status document.IndexStatus, updatedBefore time.Time, limit int) ([]*document.Version, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := m.versions.Find(ctx, bson.M{
		"indexStatus": string(status),
		"updatedAt":   bson.M{"$lt": updatedBefore},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("list versions by index status: %w", err)
	}
	return decodeVersions(ctx, cur)
}

func (m *MongoRepo) BlobReferenced(ctx context.Context, path string) (bool, error) {
	n, err := m.versions.CountDocuments(ctx, bson.M{"blob.path": path}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("blob reference lookup: %w", err)
	}
	return n > 0, nil
}

func (m *MongoRepo) Close(ctx context.Context) error { return nil }

func (m *MongoRepo) findDocument(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	err := m.docs.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (m *MongoRepo) findVersion(ctx context.Context, id string) (*document.Version, error) {
	var v document.Version
	err := m.versions.FindOne(ctx, bson.M{"_id": id}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (m *MongoRepo) listVersions(ctx context.Context, documentID string) ([]*document.Version, error) {
	opts := options.Find().SetSort(bson.D{{Key: "validFrom", Value: -1}, {Key: "createdAt", Value: -1}})
	cur, err := m.versions.Find(ctx, bson.M{"documentId": documentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return decodeVersions(ctx, cur)
}

func decodeVersions(ctx context.Context, cur *mongo.Cursor) ([]*document.Version, error) {
	defer cur.Close(ctx)
	out := []*document.Version{}
	for cur.Next(ctx) {
		var v document.Version
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, cur.Err()
}

// mongoTx runs every call on the session context RunInTx handed to fn.
type mongoTx struct {
	repo *MongoRepo
}

func (t *mongoTx) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return t.repo.findDocument(ctx, id)
}

// LockDocument bumps the revision so that any other transaction writing the
// same document hits a write conflict.
func (t *mongoTx) LockDocument(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	err := t.repo.docs.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"revision": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock document: %w", err)
	}
	return &d, nil
}

func (t *mongoTx) GetVersion(ctx context.Context, id string) (*document.Version, error) {
	return t.repo.findVersion(ctx, id)
}

func (t *mongoTx) ListVersions(ctx context.Context, documentID string) ([]*document.Version, error) {
	return t.repo.listVersions(ctx, documentID)
}

func (t *mongoTx) UpsertDocument(ctx context.Context, d *document.Document) error {
	if d.ID == "" {
		d.ID = primitive.NewObjectID().Hex()
	}
	_, err := t.repo.docs.ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	if err != nil {
		return mapMongoErr(fmt.Errorf("upsert document: %w", err))
	}
	return nil
}

func (t *mongoTx) UpsertVersion(ctx context.Context, v *document.Version) error {
	if v.ID == "" {
		v.ID = primitive.NewObjectID().Hex()
	}
	_, err := t.repo.versions.ReplaceOne(ctx, bson.M{"_id": v.ID}, v, options.Replace().SetUpsert(true))
	if err != nil {
		return mapMongoErr(fmt.Errorf("upsert version: %w", err))
	}
	return nil
}

func mapMongoErr(err error) error {
	if err != nil && mongo.IsDuplicateKeyError(err) && !errors.Is(err, ErrDuplicateKey) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}
