// internal/storage/mongodb/mongodb.go
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"solana-volume-bot/internal/storage"
	"solana-volume-bot/internal/storage/models"
)

const connectTimeout = 10 * time.Second

// mongoStorage implements storage.Store on top of mongo-driver.
type mongoStorage struct {
	client  *mongo.Client
	db      *mongo.Database
	users   *mongo.Collection
	tokens  *mongo.Collection
	wallets *mongo.Collection
	taxes   *mongo.Collection
	logger  *zap.Logger
}

// NewStorage connects to MongoDB and returns the store.
func NewStorage(ctx context.Context, uri, dbName string, logger *zap.Logger) (storage.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	s := &mongoStorage{
		client:  client,
		db:      db,
		users:   db.Collection("users"),
		tokens:  db.Collection("tokens"),
		wallets: db.Collection("wallets"),
		taxes:   db.Collection("taxes"),
		logger:  logger.Named("mongodb"),
	}

	if err := s.ensureIndexes(connectCtx); err != nil {
		return nil, err
	}

	logger.Info("Connected to MongoDB", zap.String("database", dbName))
	return s, nil
}

func (s *mongoStorage) ensureIndexes(ctx context.Context) error {
	_, err := s.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chatid", Value: 1}, {Key: "addr", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create token index: %w", err)
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chatid", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create user index: %w", err)
	}
	return nil
}

func (s *mongoStorage) GetUser(ctx context.Context, chatID string) (*models.User, error) {
	var user models.User
	err := s.users.FindOne(ctx, bson.M{"chatid": chatID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *mongoStorage) UpsertUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.users.ReplaceOne(ctx,
		bson.M{"chatid": user.ChatID},
		user,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *mongoStorage) GetToken(ctx context.Context, chatID, addr string) (*models.Token, error) {
	var token models.Token
	err := s.tokens.FindOne(ctx, bson.M{"chatid": chatID, "addr": addr}).Decode(&token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *mongoStorage) UpsertToken(ctx context.Context, token *models.Token) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	_, err := s.tokens.ReplaceOne(ctx,
		bson.M{"chatid": token.ChatID, "addr": token.Addr},
		token,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *mongoStorage) SetTokenActive(ctx context.Context, chatID, addr string, active bool, lastWorked time.Time) error {
	res, err := s.tokens.UpdateOne(ctx,
		bson.M{"chatid": chatID, "addr": addr},
		bson.M{"$set": bson.M{"status": active, "lastWorkedTime": lastWorked}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *mongoStorage) AddTokenVolume(ctx context.Context, chatID, addr string, volume float64, worked time.Duration, lastWorked time.Time) error {
	res, err := s.tokens.UpdateOne(ctx,
		bson.M{"chatid": chatID, "addr": addr},
		bson.M{
			"$inc": bson.M{
				"currentVolume": volume,
				"workingTime":   worked.Milliseconds(),
			},
			"$set": bson.M{"lastWorkedTime": lastWorked},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *mongoStorage) ListWallets(ctx context.Context, limit int) ([]*models.WalletRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.wallets.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.WalletRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *mongoStorage) SaveWallet(ctx context.Context, record *models.WalletRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.wallets.ReplaceOne(ctx,
		bson.M{"_id": record.ID},
		record,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *mongoStorage) MarkWalletUsed(ctx context.Context, id, tokenAddr string) error {
	_, err := s.wallets.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"usedTokenIdx": tokenAddr}},
	)
	return err
}

func (s *mongoStorage) ResetWalletUsage(ctx context.Context) error {
	_, err := s.wallets.UpdateMany(ctx,
		bson.M{},
		bson.M{"$set": bson.M{"usedTokenIdx": []string{}}},
	)
	return err
}

func (s *mongoStorage) SaveTaxRecord(ctx context.Context, record *models.TaxRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.taxes.InsertOne(ctx, record)
	return err
}

func (s *mongoStorage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
