package mongo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/model"
	registrymigrate "github.com/chirino/swarm-sync/internal/registry/migrate"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	dbName         = "swarm_sync"
	collectionName = "interactions"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.HistoryStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return &MongoStore{
				client: client,
				coll:   client.Database(dbName).Collection(collectionName),
			}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.StoreMigrateAtStart {
		return nil
	}
	if cfg.StoreType != "mongo" {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(dbName)
	// CreateCollection fails when the collection exists; the indexes below
	// are what matter.
	_ = db.CreateCollection(ctx, collectionName)
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "account", Value: 1}, {Key: "conversation_uri", Value: 1}, {Key: "message_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_interaction_key"),
		},
		{Keys: bson.D{{Key: "account", Value: 1}, {Key: "conversation_uri", Value: 1}, {Key: "sent_at", Value: 1}, {Key: "created_at", Value: 1}}},
	}
	if _, err := db.Collection(collectionName).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", collectionName, err)
	}

	log.Info("MongoDB schema migration complete")
	return nil
}

type interactionDoc struct {
	Account         string            `bson:"account"`
	ConversationURI string            `bson:"conversation_uri"`
	MessageKey      string            `bson:"message_key"`
	ParentID        string            `bson:"parent_id,omitempty"`
	Kind            string            `bson:"kind"`
	SentAt          int64             `bson:"sent_at"`
	Interaction     model.Interaction `bson:"interaction"`
	CreatedAt       time.Time         `bson:"created_at"`
	UpdatedAt       time.Time         `bson:"updated_at"`
}

// MongoStore implements HistoryStore using MongoDB.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func keyFilter(account string, uri model.URI, key string) bson.M {
	return bson.M{"account": account, "conversation_uri": uri.String(), "message_key": key}
}

func (s *MongoStore) LoadHistory(ctx context.Context, account string, uri model.URI) ([]model.Interaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sent_at", Value: 1}, {Key: "created_at", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"account": account, "conversation_uri": uri.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer cur.Close(ctx)
	var docs []interactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	out := make([]model.Interaction, len(docs))
	for i := range docs {
		out[i] = docs[i].Interaction
	}
	return out, nil
}

func (s *MongoStore) SaveInteraction(ctx context.Context, account string, uri model.URI, n model.Interaction) error {
	if err := registrystore.Validate(account, uri); err != nil {
		return err
	}
	key := registrystore.Key(n)
	if n.StatusMap == nil {
		// UpdateStatus sets fields inside the map, which must not be null.
		n.StatusMap = map[string]model.InteractionStatus{}
	}
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"parent_id":   n.ParentID,
			"kind":        string(n.Type),
			"sent_at":     n.Timestamp,
			"interaction": n,
			"updated_at":  now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := s.coll.UpdateOne(ctx, keyFilter(account, uri, key), update, options.UpdateOne().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return &registrystore.ConflictError{Message: "concurrent insert of " + key, Code: "duplicate_key"}
	}
	if err != nil {
		return fmt.Errorf("failed to save interaction: %w", err)
	}
	return nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, account string, uri model.URI, key, peer string, st model.InteractionStatus) error {
	field := "interaction.statusmap." + model.ParseURI(peer).ID
	result, err := s.coll.UpdateOne(ctx, keyFilter(account, uri, key), bson.M{
		"$set": bson.M{field: st, "updated_at": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if result.MatchedCount == 0 {
		return &registrystore.NotFoundError{Resource: "interaction", ID: key}
	}
	return nil
}

func (s *MongoStore) RemoveInteraction(ctx context.Context, account string, uri model.URI, key string) error {
	result, err := s.coll.DeleteOne(ctx, keyFilter(account, uri, key))
	if err != nil {
		return fmt.Errorf("failed to remove interaction: %w", err)
	}
	if result.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: "interaction", ID: key}
	}
	return nil
}

func (s *MongoStore) ClearHistory(ctx context.Context, account string, uri model.URI) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"account": account, "conversation_uri": uri.String()}); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func (s *MongoStore) ListConversations(ctx context.Context, account string) ([]model.URI, error) {
	res := s.coll.Distinct(ctx, "conversation_uri", bson.M{"account": account})
	var uris []string
	if err := res.Decode(&uris); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	out := make([]model.URI, len(uris))
	for i, u := range uris {
		out[i] = model.ParseURI(u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
