package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/rushteam/oralcare/core"
)

const (
	// DefaultMongoDatabase 默认数据库名
	DefaultMongoDatabase = "oral_cancer_db"

	usersCollection    = "users"
	recordsCollection  = "records"
	feedbackCollection = "feedback"
)

// 邮箱比较不区分大小写
var emailCollation = &options.Collation{Locale: "en", Strength: 2}

// MongoStore 是 MongoDB 实现的 Repository。
// 用户与记录的 _id 使用 ObjectID，对外以 hex 字符串表示。
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	records  *mongo.Collection
	feedback *mongo.Collection
}

type mongoUser struct {
	ID            primitive.ObjectID `bson:"_id"`
	Name          string             `bson:"name"`
	Email         string             `bson:"email"`
	Password      string             `bson:"password,omitempty"`
	Role          string             `bson:"role"`
	EmailVerified bool               `bson:"email_verified"`
	GoogleID      string             `bson:"google_id,omitempty"`
	CreatedAt     time.Time          `bson:"created_at"`
}

type mongoRecord struct {
	ID                  primitive.ObjectID `bson:"_id"`
	UserID              string             `bson:"user_id"`
	ImageResult         string             `bson:"image_result"`
	ImageConfidence     float64            `bson:"image_confidence"`
	MetadataProbability *float64           `bson:"metadata_probability"`
	FinalScore          float64            `bson:"final_score"`
	FinalDecision       string             `bson:"final_decision"`
	Recommendation      string             `bson:"recommendation,omitempty"`
	Metadata            bson.M             `bson:"metadata,omitempty"`
	ImageURL            string             `bson:"image_url,omitempty"`
	CreatedAt           time.Time          `bson:"createdAt"`
	Timestamp           string             `bson:"timestamp"`
}

// NewMongoStore 连接 MongoDB 并确保索引存在
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, unavailable("mongo connect", err)
	}
	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		users:    db.Collection(usersCollection),
		records:  db.Collection(recordsCollection),
		feedback: db.Collection(feedbackCollection),
	}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, unavailable("mongo create indexes", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetCollation(emailCollation),
	})
	if err != nil {
		return err
	}
	_, err = s.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	return err
}

func (s *MongoStore) Name() string { return "mongo" }

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "mongo unreachable", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// objectID 解析 hex ID，格式错误视为不存在
func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, core.ErrStoreNotFound
	}
	return oid, nil
}

func mongoErr(op string, err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return core.ErrStoreNotFound
	case mongo.IsDuplicateKeyError(err):
		return core.ErrStoreConflict
	default:
		return unavailable(op, err)
	}
}

func (s *MongoStore) CreateUser(ctx context.Context, u *core.User) error {
	oid := primitive.NewObjectID()
	doc := mongoUser{
		ID:            oid,
		Name:          u.Name,
		Email:         u.Email,
		Password:      u.PasswordHash,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		GoogleID:      u.GoogleID,
		CreatedAt:     u.CreatedAt,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return mongoErr("mongo insert user", err)
	}
	u.ID = oid.Hex()
	return nil
}

func (d *mongoUser) user() *core.User {
	return &core.User{
		ID:            d.ID.Hex(),
		Name:          d.Name,
		Email:         d.Email,
		PasswordHash:  d.Password,
		Role:          d.Role,
		EmailVerified: d.EmailVerified,
		GoogleID:      d.GoogleID,
		CreatedAt:     d.CreatedAt,
	}
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var doc mongoUser
	if err := s.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, mongoErr("mongo find user", err)
	}
	return doc.user(), nil
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	var doc mongoUser
	opts := options.FindOne().SetCollation(emailCollation)
	if err := s.users.FindOne(ctx, bson.M{"email": email}, opts).Decode(&doc); err != nil {
		return nil, mongoErr("mongo find user", err)
	}
	return doc.user(), nil
}

func (s *MongoStore) UpdateUser(ctx context.Context, u *core.User) error {
	oid, err := objectID(u.ID)
	if err != nil {
		return err
	}
	update := bson.M{"$set": bson.M{
		"name":           u.Name,
		"email":          u.Email,
		"password":       u.PasswordHash,
		"role":           u.Role,
		"email_verified": u.EmailVerified,
		"google_id":      u.GoogleID,
	}}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return mongoErr("mongo update user", err)
	}
	if res.MatchedCount == 0 {
		return core.ErrStoreNotFound
	}
	return nil
}

func (s *MongoStore) InsertRecord(ctx context.Context, r *core.PredictionRecord) error {
	oid := primitive.NewObjectID()
	doc := mongoRecord{
		ID:                  oid,
		UserID:              r.UserID,
		ImageResult:         string(r.ImageResult),
		ImageConfidence:     r.ImageConfidence,
		MetadataProbability: r.MetadataProbability,
		FinalScore:          r.FinalScore,
		FinalDecision:       string(r.FinalDecision),
		Recommendation:      r.Recommendation,
		Metadata:            bson.M(r.Metadata),
		ImageURL:            r.ImageURL,
		CreatedAt:           r.CreatedAt,
		Timestamp:           r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.records.InsertOne(ctx, doc); err != nil {
		return mongoErr("mongo insert record", err)
	}
	r.ID = oid.Hex()
	return nil
}

func (d *mongoRecord) record() *core.PredictionRecord {
	r := &core.PredictionRecord{
		ID:                  d.ID.Hex(),
		UserID:              d.UserID,
		ImageResult:         core.Decision(d.ImageResult),
		ImageConfidence:     d.ImageConfidence,
		MetadataProbability: d.MetadataProbability,
		FinalScore:          d.FinalScore,
		FinalDecision:       core.Decision(d.FinalDecision),
		Recommendation:      d.Recommendation,
		ImageURL:            d.ImageURL,
		CreatedAt:           d.CreatedAt,
	}
	if len(d.Metadata) > 0 {
		r.Metadata = map[string]any(d.Metadata)
	}
	return r
}

func (s *MongoStore) ListRecords(ctx context.Context, userID string, limit int) ([]*core.PredictionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.records.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, mongoErr("mongo find records", err)
	}
	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mongoErr("mongo read records", err)
	}
	out := make([]*core.PredictionRecord, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].record())
	}
	return out, nil
}

func (s *MongoStore) GetRecord(ctx context.Context, userID, recordID string) (*core.PredictionRecord, error) {
	oid, err := objectID(recordID)
	if err != nil {
		return nil, err
	}
	var doc mongoRecord
	if err := s.records.FindOne(ctx, bson.M{"_id": oid, "user_id": userID}).Decode(&doc); err != nil {
		return nil, mongoErr(fmt.Sprintf("mongo find record %s", recordID), err)
	}
	return doc.record(), nil
}

type mongoFeedback struct {
	ID        primitive.ObjectID `bson:"_id"`
	Content   string             `bson:"content"`
	Rating    *int               `bson:"rating"`
	Source    string             `bson:"source"`
	Timestamp time.Time          `bson:"timestamp"`
}

func (s *MongoStore) InsertFeedback(ctx context.Context, f *core.Feedback) error {
	oid := primitive.NewObjectID()
	doc := mongoFeedback{ID: oid, Content: f.Content, Rating: f.Rating, Source: f.Source, Timestamp: f.CreatedAt}
	if _, err := s.feedback.InsertOne(ctx, doc); err != nil {
		return mongoErr("mongo insert feedback", err)
	}
	f.ID = oid.Hex()
	return nil
}

var _ core.Repository = (*MongoStore)(nil)
