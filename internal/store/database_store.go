package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"net/url"
	"time"
)

const (
	ProfileCollectionName   = "environments"
	DefaultOperationTimeout = 5 * time.Second
	DefaultCacheTTL         = 5 * time.Minute
	cacheSize               = 128
)

// DatabaseStore keeps profiles in MongoDB behind an expiring in-memory cache.
type DatabaseStore struct {
	client           *mongo.Client
	collection       *mongo.Collection
	operationTimeout time.Duration
	cache            *expirable.LRU[string, config.Connection]
}

func NewDatabaseStore(collection *mongo.Collection, operationTimeout time.Duration, cacheTTL time.Duration) *DatabaseStore {
	if operationTimeout <= 0 {
		operationTimeout = DefaultOperationTimeout
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &DatabaseStore{
		collection:       collection,
		operationTimeout: operationTimeout,
		cache:            expirable.NewLRU[string, config.Connection](cacheSize, nil, cacheTTL),
	}
}

func clientOptions(appName string, db config.Database) *options.ClientOptions {
	encodedUser := url.QueryEscape(db.Username)
	encodedPass := url.QueryEscape(db.Password)
	databaseUrl := fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		encodedUser, encodedPass,
		db.Host,
		db.Port,
	)

	clientOptions := options.Client().ApplyURI(databaseUrl).SetAppName(appName)
	clientOptions.SetMinPoolSize(db.MinPoolSize)
	if db.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(db.MaxPoolSize)
	}
	if d := utils.MustParseStringTime(db.ConnectIdleTimeout, 0); d > 0 {
		clientOptions.SetMaxConnIdleTime(d)
	}
	clientOptions.SetConnectTimeout(utils.MustParseStringTime(db.ConnectTimeout, 10*time.Second))
	if d := utils.MustParseStringTime(db.SocketTimeout, 0); d > 0 {
		clientOptions.SetSocketTimeout(d)
	}
	if d := utils.MustParseStringTime(db.Heartbeat, 0); d > 0 {
		clientOptions.SetHeartbeatInterval(d)
	}
	if db.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %s", evt.Address)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %s (%s)", evt.Address, evt.Reason)
			}
		},
	})
	return clientOptions
}

// ConnectDatabase opens the profile database described by cfg.Database and
// ensures the unique name index.
func ConnectDatabase(ctx context.Context, cfg config.Config) (*DatabaseStore, error) {
	logger.DebugF("Connecting to database...")
	db := cfg.Database

	client, err := mongo.Connect(ctx, clientOptions(cfg.AppName, db))
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	collection := client.Database(db.Database).Collection(ProfileCollectionName)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("environments_name_unique"),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while creating database indexes: %w", err)
	}

	store := NewDatabaseStore(collection,
		utils.MustParseStringTime(db.OperationTimeout, DefaultOperationTimeout),
		utils.MustParseStringTime(db.CacheTTL, DefaultCacheTTL))
	store.client = client
	logger.InfoF("Profile database connected: %s:%d/%s", db.Host, db.Port, db.Database)
	return store, nil
}

func wrapError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %w", ErrProfileNotFound, err)
	}
	return fmt.Errorf("database operation failed: %w", err)
}

func (ds *DatabaseStore) Get(ctx context.Context, name string) (config.Connection, error) {
	if name == "" {
		return config.Connection{}, ErrNameEmpty
	}
	if profile, ok := ds.cache.Get(name); ok {
		return profile, nil
	}

	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	var profile config.Connection
	startTime := time.Now()
	err := ds.collection.FindOne(ctx, bson.D{{Key: "name", Value: name}}).Decode(&profile)
	logger.DebugF("profile query cost: %v", time.Since(startTime))
	if err != nil {
		return config.Connection{}, wrapError(err)
	}
	ds.cache.Add(name, profile)
	return profile, nil
}

func (ds *DatabaseStore) Save(ctx context.Context, profile config.Connection) error {
	if profile.Name == "" {
		return ErrNameEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "name", Value: profile.Name}}
	result, err := ds.collection.ReplaceOne(ctx, filter, profile, options.Replace().SetUpsert(true))
	if err != nil {
		return wrapError(err)
	}
	ds.cache.Remove(profile.Name)

	logger.InfoF("Profile saved: name=%s, matched=%d, modified=%d, upserted=%v",
		profile.Name,
		result.MatchedCount,
		result.ModifiedCount,
		result.UpsertedID != nil,
	)
	return nil
}

func (ds *DatabaseStore) Delete(ctx context.Context, name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	result, err := ds.collection.DeleteOne(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return wrapError(err)
	}
	ds.cache.Remove(name)
	logger.InfoF("Profile deleted: name=%s, deleted=%d", name, result.DeletedCount)
	return nil
}

func (ds *DatabaseStore) List(ctx context.Context) ([]config.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	cursor, err := ds.collection.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, wrapError(err)
	}
	var profiles []config.Connection
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, wrapError(err)
	}
	return profiles, nil
}

// Invoke closes the database connection. It lets the store be registered with the shutdown cleaner.
func (ds *DatabaseStore) Invoke(ctx context.Context) error {
	if ds.client == nil {
		return nil
	}
	logger.InfoF("Closing database connection")
	return ds.client.Disconnect(ctx)
}
