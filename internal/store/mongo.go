package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gamereview/api/internal/analysis"
)

// ErrNotFound is returned when no analysis exists under an ID.
var ErrNotFound = errors.New("analysis not found")

// AnalysisStore persists completed game analyses.
type AnalysisStore interface {
	Save(ctx context.Context, a *analysis.GameAnalysis) error
	Get(ctx context.Context, id uuid.UUID) (*analysis.GameAnalysis, error)
}

// MongoAnalysisStore keeps analyses in a Mongo collection.
type MongoAnalysisStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoAnalysisStore connects to uri and uses the "analyses"
// collection of the given database.
func NewMongoAnalysisStore(ctx context.Context, uri, database string) (*MongoAnalysisStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &MongoAnalysisStore{
		client: client,
		coll:   client.Database(database).Collection("analyses"),
	}, nil
}

// Save upserts the analysis under its ID.
func (s *MongoAnalysisStore) Save(ctx context.Context, a *analysis.GameAnalysis) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"id": a.ID}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll.ReplaceOne(ctx, filter, a, opts); err != nil {
		return fmt.Errorf("save analysis %s: %w", a.ID, err)
	}
	return nil
}

// Get fetches an analysis by ID.
func (s *MongoAnalysisStore) Get(ctx context.Context, id uuid.UUID) (*analysis.GameAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var a analysis.GameAnalysis
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis %s: %w", id, err)
	}
	return &a, nil
}

// Close disconnects the client.
func (s *MongoAnalysisStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MemoryAnalysisStore is the in-process fallback used when no Mongo
// URI is configured. Bounded; oldest analyses are dropped first.
type MemoryAnalysisStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*analysis.GameAnalysis
	order []uuid.UUID
	max   int
}

// NewMemoryAnalysisStore creates a store bounded to max analyses.
func NewMemoryAnalysisStore(max int) *MemoryAnalysisStore {
	if max <= 0 {
		max = 1000
	}
	return &MemoryAnalysisStore{
		byID: make(map[uuid.UUID]*analysis.GameAnalysis),
		max:  max,
	}
}

// Save stores the analysis, evicting the oldest entry at capacity.
func (s *MemoryAnalysisStore) Save(_ context.Context, a *analysis.GameAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[a.ID]; !exists {
		for len(s.byID) >= s.max && len(s.order) > 0 {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.byID, oldest)
		}
		s.order = append(s.order, a.ID)
	}
	s.byID[a.ID] = a
	return nil
}

// Get fetches an analysis by ID.
func (s *MemoryAnalysisStore) Get(_ context.Context, id uuid.UUID) (*analysis.GameAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}
