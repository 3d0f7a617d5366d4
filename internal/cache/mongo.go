package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/similarity"
)

type recordDoc struct {
	ID       string               `bson:"_id"`
	RecordID string               `bson:"recordId"`
	Type     string               `bson:"type"`
	Search   string               `bson:"search"`
	Record   domain.UnifiedRecord `bson:"record"`
	StoredAt int64                `bson:"storedAt"`
}

type derivativeDoc struct {
	ID           string `bson:"_id"`
	RecordID     string `bson:"recordId"`
	SubKey       string `bson:"subKey,omitempty"`
	Kind         string `bson:"kind"`
	ProviderID   string `bson:"providerId,omitempty"`
	Data         string `bson:"data"`
	LastCachedAt int64  `bson:"lastCachedAt"`
}

type MongoStore struct {
	client      *mongo.Client
	records     *mongo.Collection
	derivatives *mongo.Collection
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		client:      client,
		records:     db.Collection("records"),
		derivatives: db.Collection("derivatives"),
	}
}

func ConnectMongo(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "recordId", Value: 1}}},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "search", Value: 1}}},
	}
	_, err := s.records.Indexes().CreateMany(ctx, models)
	return err
}

func toRecordDoc(record domain.UnifiedRecord, now time.Time) recordDoc {
	return recordDoc{
		ID:       recordKey(record.Type, record.ID),
		RecordID: record.ID,
		Type:     string(record.Type),
		Search:   searchText(record),
		Record:   record,
		StoredAt: now.Unix(),
	}
}

func (s *MongoStore) GetRecord(ctx context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, bool, error) {
	var doc recordDoc
	err := s.records.FindOne(ctx, bson.M{"_id": recordKey(mediaType, id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.UnifiedRecord{}, false, nil
		}
		return domain.UnifiedRecord{}, false, err
	}
	return doc.Record, true, nil
}

func (s *MongoStore) InsertRecord(ctx context.Context, record domain.UnifiedRecord) (bool, error) {
	doc := toRecordDoc(record, time.Now())
	result, err := s.records.UpdateOne(
		ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": bson.M{
			"recordId": doc.RecordID,
			"type":     doc.Type,
			"search":   doc.Search,
			"record":   doc.Record,
			"storedAt": doc.StoredAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return result.UpsertedCount > 0, nil
}

func (s *MongoStore) ReplaceRecord(ctx context.Context, record domain.UnifiedRecord) error {
	doc := toRecordDoc(record, time.Now())
	_, err := s.records.UpdateOne(
		ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": bson.M{
			"recordId": doc.RecordID,
			"type":     doc.Type,
			"search":   doc.Search,
			"record":   doc.Record,
			"storedAt": doc.StoredAt,
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func mongoSearchFilter(query string, mediaType domain.MediaType) bson.M {
	return bson.M{
		"type":   string(mediaType),
		"search": bson.M{"$regex": regexp.QuoteMeta(similarity.Normalize(query))},
	}
}

func (s *MongoStore) FindRecords(ctx context.Context, query string, mediaType domain.MediaType, limit int) ([]domain.UnifiedRecord, error) {
	if similarity.Normalize(query) == "" {
		return nil, nil
	}
	cursor, err := s.records.Find(ctx, mongoSearchFilter(query, mediaType), options.Find().SetLimit(scanLimit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []recordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	candidates := make([]domain.UnifiedRecord, 0, len(docs))
	for _, doc := range docs {
		candidates = append(candidates, doc.Record)
	}
	return rankRecords(candidates, query, limit), nil
}

func (s *MongoStore) GetDerivative(ctx context.Context, key domain.DerivativeKey) (domain.CachedDerivative, bool, error) {
	var doc derivativeDoc
	err := s.derivatives.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.CachedDerivative{}, false, nil
		}
		return domain.CachedDerivative{}, false, err
	}
	derivative := derivativeDocToDomain(doc)
	derivative.Key.ProviderID = key.ProviderID
	return derivative, true, nil
}

func (s *MongoStore) PutDerivative(ctx context.Context, derivative domain.CachedDerivative) error {
	doc := derivativeToDoc(derivative)
	_, err := s.derivatives.UpdateOne(
		ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": bson.M{
			"recordId":     doc.RecordID,
			"subKey":       doc.SubKey,
			"kind":         doc.Kind,
			"providerId":   doc.ProviderID,
			"data":         doc.Data,
			"lastCachedAt": doc.LastCachedAt,
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func derivativeToDoc(derivative domain.CachedDerivative) derivativeDoc {
	return derivativeDoc{
		ID:           derivative.Key.String(),
		RecordID:     derivative.Key.ID,
		SubKey:       derivative.Key.SubKey,
		Kind:         string(derivative.Key.Kind),
		ProviderID:   derivative.ProviderID,
		Data:         string(derivative.Data),
		LastCachedAt: derivative.LastCachedAt.UnixMilli(),
	}
}

func derivativeDocToDomain(doc derivativeDoc) domain.CachedDerivative {
	return domain.CachedDerivative{
		Key: domain.DerivativeKey{
			ID:     doc.RecordID,
			SubKey: doc.SubKey,
			Kind:   domain.DerivativeKind(doc.Kind),
		},
		ProviderID:   doc.ProviderID,
		Data:         []byte(doc.Data),
		LastCachedAt: time.UnixMilli(doc.LastCachedAt).UTC(),
	}
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: "mongo", Records: map[string]int{}}
	for _, mediaType := range []domain.MediaType{domain.MediaTypeAnime, domain.MediaTypeManga} {
		count, err := s.records.CountDocuments(ctx, bson.M{"type": string(mediaType)})
		if err != nil {
			return Stats{}, err
		}
		stats.Records[string(mediaType)] = int(count)
	}
	count, err := s.derivatives.EstimatedDocumentCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.Derivatives = int(count)
	return stats, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
