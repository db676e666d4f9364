package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gap_strategy_backend/models"
)

// MongoDB names
const (
	MongoDBName            = "gap_scanner"
	MongoHistoryCollection = "gap_history"
	mongoLedgerID          = "ledger"
)

// mongoLedger is the single document holding the whole ledger
type mongoLedger struct {
	ID        string                        `bson:"_id"`
	UpdatedAt time.Time                     `bson:"updated_at"`
	Dates     int                           `bson:"dates"`
	Ledger    map[string][]models.GapRecord `bson:"ledger"`
}

// MongoStore keeps the ledger as one upserted document
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongo dials uri, verifies the connection with a ping and returns a store
func ConnectMongo(ctx context.Context, uri string) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("MONGODB_URI environment variable not set")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(5).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return NewMongoStore(client), nil
}

// NewMongoStore wraps an existing client
func NewMongoStore(client *mongo.Client) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: client.Database(MongoDBName).Collection(MongoHistoryCollection),
	}
}

func (m *MongoStore) Load(ctx context.Context) (models.HistoricalLedger, error) {
	var doc mongoLedger
	err := m.collection.FindOne(ctx, bson.M{"_id": mongoLedgerID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return make(models.HistoricalLedger), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load gap history: %w", err)
	}
	if doc.Ledger == nil {
		return make(models.HistoricalLedger), nil
	}
	return models.HistoricalLedger(doc.Ledger), nil
}

func (m *MongoStore) Save(ctx context.Context, ledger models.HistoricalLedger) error {
	doc := mongoLedger{
		ID:        mongoLedgerID,
		UpdatedAt: time.Now().UTC(),
		Dates:     len(ledger),
		Ledger:    ledger,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": mongoLedgerID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save gap history: %w", err)
	}
	return nil
}

// Close disconnects the client
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
