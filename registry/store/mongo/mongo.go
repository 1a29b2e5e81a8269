// Package mongo provides a MongoDB implementation of the registry store.
//
// This implementation persists agent manifests to MongoDB for durability
// across restarts, suitable for production deployments.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/registry/store"
)

// Store is a MongoDB implementation of the store.Store interface.
// It persists agent manifests to MongoDB for durability across restarts.
type Store struct {
	collection *mongo.Collection
}

// Compile-time check that Store implements store.Store and the optional
// durable-profile interfaces.
var (
	_ store.Store            = (*Store)(nil)
	_ store.HistoryRecorder  = (*Store)(nil)
	_ store.StatsProvider    = (*Store)(nil)
)

// historyLimit bounds the health-check history ring kept per agent.
const historyLimit = 20

// agentDocument is the MongoDB document representation of an Agent, plus
// the durable-profile-only fields (registration time, bounded health
// history) that have no analogue in manifest.Agent itself.
type agentDocument struct {
	AgentID       string                `bson:"_id"`
	DisplayName   string                `bson:"display_name"`
	Version       string                `bson:"version"`
	Description   string                `bson:"description,omitempty"`
	RuntimeKind   string                `bson:"runtime_kind"`
	Endpoint      endpointDocument      `bson:"endpoint"`
	Capabilities  []capabilityDocument  `bson:"capabilities,omitempty"`
	Tags          []string              `bson:"tags"`
	TrustTier     string                `bson:"trust_tier"`
	Status        string                `bson:"status"`
	LastSeen      *time.Time            `bson:"last_seen,omitempty"`
	RegisteredAt  time.Time             `bson:"registered_at"`
	HealthHistory []healthCheckDocument `bson:"health_history,omitempty"`
}

type healthCheckDocument struct {
	Status     string    `bson:"status"`
	LatencyMS  *int64    `bson:"latency_ms,omitempty"`
	ObservedAt time.Time `bson:"observed_at"`
}

type endpointDocument struct {
	Transport string `bson:"transport"`
	URI       string `bson:"uri"`
}

type capabilityDocument struct {
	Name         string         `bson:"name"`
	Description  string         `bson:"description,omitempty"`
	Streaming    bool           `bson:"streaming,omitempty"`
	Modalities   []string       `bson:"modalities,omitempty"`
	InputSchema  map[string]any `bson:"input_schema,omitempty"`
	OutputSchema map[string]any `bson:"output_schema,omitempty"`
	MaxTimeoutMS int64          `bson:"max_timeout_ms,omitempty"`
}

// New creates a new MongoDB store using the provided collection.
// The collection should be from a connected MongoDB client.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// Save stores or replaces an agent manifest in MongoDB. It replaces the
// manifest fields wholesale (matching the registry's re-registration
// invariant) while preserving registered_at and health_history, which
// are store-internal bookkeeping outside the manifest itself.
func (s *Store) Save(ctx context.Context, agent *manifest.Agent) error {
	doc := toDocument(agent)
	update := bson.M{
		"$set": bson.M{
			"display_name": doc.DisplayName,
			"version":      doc.Version,
			"description":  doc.Description,
			"runtime_kind": doc.RuntimeKind,
			"endpoint":     doc.Endpoint,
			"capabilities": doc.Capabilities,
			"tags":         doc.Tags,
			"trust_tier":   doc.TrustTier,
			"status":       doc.Status,
			"last_seen":    doc.LastSeen,
		},
		"$setOnInsert": bson.M{
			"registered_at": time.Now().UTC(),
		},
	}
	opts := options.UpdateOne().SetUpsert(true)
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": agent.AgentID}, update, opts)
	if err != nil {
		return fmt.Errorf("mongodb save agent %q: %w", agent.AgentID, err)
	}
	return nil
}

// RecordHealthCheck appends an observation to the agent's bounded health
// history ring, trimming it to the most recent historyLimit entries.
func (s *Store) RecordHealthCheck(ctx context.Context, agentID string, check store.HealthCheck) error {
	entry := healthCheckDocument{
		Status:     string(check.Status),
		LatencyMS:  check.LatencyMS,
		ObservedAt: check.ObservedAt,
	}
	update := bson.M{
		"$push": bson.M{
			"health_history": bson.M{
				"$each":  []healthCheckDocument{entry},
				"$slice": -historyLimit,
			},
		},
	}
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": agentID}, update)
	if err != nil {
		return fmt.Errorf("mongodb record health check %q: %w", agentID, err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Stats summarizes the current agent population by status and trust tier.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"status": 1, "trust_tier": 1}))
	if err != nil {
		return store.Stats{}, fmt.Errorf("mongodb stats: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []agentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return store.Stats{}, fmt.Errorf("mongodb stats decode: %w", err)
	}

	stats := store.Stats{
		ByStatus:    make(map[manifest.Status]int),
		ByTrustTier: make(map[manifest.TrustTier]int),
	}
	for _, doc := range docs {
		stats.TotalAgents++
		stats.ByStatus[manifest.Status(doc.Status)]++
		stats.ByTrustTier[manifest.TrustTier(doc.TrustTier)]++
	}
	return stats, nil
}

// Get retrieves an agent by id from MongoDB.
func (s *Store) Get(ctx context.Context, agentID string) (*manifest.Agent, error) {
	var doc agentDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": agentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get agent %q: %w", agentID, err)
	}
	return fromDocument(&doc), nil
}

// Delete removes an agent by id from MongoDB.
func (s *Store) Delete(ctx context.Context, agentID string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": agentID})
	if err != nil {
		return fmt.Errorf("mongodb delete agent %q: %w", agentID, err)
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// List returns every agent matching filter.
func (s *Store) List(ctx context.Context, filter manifest.ListFilter) ([]*manifest.Agent, error) {
	query := bson.M{}
	if filter.Tag != "" {
		query["tags"] = filter.Tag
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.Capability != "" {
		query["capabilities.name"] = filter.Capability
	}

	cursor, err := s.collection.Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mongodb list agents: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []agentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list agents decode: %w", err)
	}

	result := make([]*manifest.Agent, len(docs))
	for i, doc := range docs {
		result[i] = fromDocument(&doc)
	}
	return result, nil
}

// UpdateStatus sets status and last_seen in place without touching the
// rest of the manifest.
func (s *Store) UpdateStatus(ctx context.Context, agentID string, status manifest.Status, lastSeen time.Time) error {
	update := bson.M{"$set": bson.M{"status": string(status), "last_seen": lastSeen}}
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": agentID}, update)
	if err != nil {
		return fmt.Errorf("mongodb update status %q: %w", agentID, err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Search matches query against agent id, display name, description, and
// tags (case-insensitive), entirely inside MongoDB via a regex $or filter.
func (s *Store) Search(ctx context.Context, query string) ([]*manifest.Agent, error) {
	escaped := escapeRegex(query)
	regex := bson.M{"$regex": escaped, "$options": "i"}
	filter := bson.M{
		"$or": []bson.M{
			{"_id": regex},
			{"display_name": regex},
			{"description": regex},
			{"tags": regex},
		},
	}

	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb search agents: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []agentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb search agents decode: %w", err)
	}

	result := make([]*manifest.Agent, len(docs))
	for i, doc := range docs {
		result[i] = fromDocument(&doc)
	}
	return result, nil
}

func toDocument(a *manifest.Agent) *agentDocument {
	caps := make([]capabilityDocument, len(a.Capabilities))
	for i, c := range a.Capabilities {
		caps[i] = capabilityDocument{
			Name:         c.Name,
			Description:  c.Description,
			Streaming:    c.Streaming,
			Modalities:   c.Modalities,
			InputSchema:  c.InputSchema,
			OutputSchema: c.OutputSchema,
			MaxTimeoutMS: c.MaxTimeoutMS,
		}
	}
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return &agentDocument{
		AgentID:     a.AgentID,
		DisplayName: a.DisplayName,
		Version:     a.Version,
		Description: a.Description,
		RuntimeKind: a.RuntimeKind,
		Endpoint: endpointDocument{
			Transport: a.Endpoint.Transport,
			URI:       a.Endpoint.URI,
		},
		Capabilities: caps,
		Tags:         tags,
		TrustTier:    string(a.TrustTier),
		Status:       string(a.Status),
		LastSeen:     a.LastSeen,
	}
}

func fromDocument(doc *agentDocument) *manifest.Agent {
	caps := make([]manifest.Capability, len(doc.Capabilities))
	for i, c := range doc.Capabilities {
		caps[i] = manifest.Capability{
			Name:         c.Name,
			Description:  c.Description,
			Streaming:    c.Streaming,
			Modalities:   c.Modalities,
			InputSchema:  c.InputSchema,
			OutputSchema: c.OutputSchema,
			MaxTimeoutMS: c.MaxTimeoutMS,
		}
	}
	return &manifest.Agent{
		AgentID:     doc.AgentID,
		DisplayName: doc.DisplayName,
		Version:     doc.Version,
		Description: doc.Description,
		RuntimeKind: doc.RuntimeKind,
		Endpoint: manifest.Endpoint{
			Transport: doc.Endpoint.Transport,
			URI:       doc.Endpoint.URI,
		},
		Capabilities: caps,
		Tags:         doc.Tags,
		TrustTier:    manifest.TrustTier(doc.TrustTier),
		Status:       manifest.Status(doc.Status),
		LastSeen:     doc.LastSeen,
	}
}

// escapeRegex escapes special regex characters for safe use in MongoDB
// regex queries.
func escapeRegex(s string) string {
	special := []string{"\\", ".", "+", "*", "?", "^", "$", "(", ")", "[", "]", "{", "}", "|"}
	result := s
	for _, char := range special {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}
	return result
}
