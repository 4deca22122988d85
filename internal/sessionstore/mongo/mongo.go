// Package mongo is the durable sessionstore.Store backed by MongoDB,
// grounded on features/session/mongo/clients/mongo/client.go's
// collection-wrapper, idempotent-upsert, and error-mapping idioms (adapted
// here from the v1 driver import paths the teacher used to the v2 driver
// paths already adopted by internal/adapter/document, since go.mod
// declares only go.mongodb.org/mongo-driver/v2). TTL expiry and the
// periodic sweep use Mongo's native TTL index instead of an
// application-level scan, which the teacher's session store does not need
// (its sessions are not caller-scoped or TTL-bound) but which spec §4.7
// requires.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/sessionstore"
)

const (
	defaultCollection = "orchestrator_sessions"
	defaultTimeout    = 5 * time.Second
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements sessionstore.Store.
type Store struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

type sessionDocument struct {
	SessionID      string              `bson:"session_id"`
	CallerID       string              `bson:"caller_id"`
	QuestionID     string              `bson:"question_id"`
	QuestionText   string              `bson:"question_text"`
	CreatedAt      time.Time           `bson:"created_at"`
	Status         model.SessionStatus `bson:"status"`
	OperationTrace []traceDocument     `bson:"operation_trace,omitempty"`
	ExpiresAt      *time.Time          `bson:"expires_at,omitempty"`
}

type traceDocument struct {
	OpID      string         `bson:"op_id"`
	SourceID  string         `bson:"source_id"`
	Status    model.OpStatus `bson:"status"`
	RowCount  int            `bson:"row_count"`
	Error     string         `bson:"error,omitempty"`
	StartedAt time.Time      `bson:"started_at"`
	EndedAt   time.Time      `bson:"ended_at"`
}

// New connects the Store and ensures its indexes exist: a unique index on
// session_id, a compound index on {caller_id, created_at} for List, and a
// TTL index on expires_at so Mongo itself reaps expired sessions between
// explicit Cleanup calls.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collName)
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ensureIndexes(ctxWithTimeout, coll); err != nil {
		return nil, err
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "caller_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Create implements sessionstore.Store.
func (s *Store) Create(ctx context.Context, question model.Question, callerID string, ttl time.Duration) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := sessionDocument{
		SessionID:    model.NewID(),
		CallerID:     callerID,
		QuestionID:   question.ID,
		QuestionText: question.Text,
		CreatedAt:    time.Now().UTC(),
		Status:       model.SessionActive,
	}
	if ttl > 0 {
		expires := doc.CreatedAt.Add(ttl)
		doc.ExpiresAt = &expires
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.SessionID, nil
}

// Get implements sessionstore.Store.
func (s *Store) Get(ctx context.Context, sessionID, callerID string) (model.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc sessionDocument
	filter := bson.M{
		"session_id": sessionID,
		"caller_id":  callerID,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": bson.M{"$gt": time.Now().UTC()}},
		},
	}
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return model.Session{}, sessionstore.ErrNotFound
		}
		return model.Session{}, err
	}
	return toSession(doc), nil
}

// Update implements sessionstore.Store. It writes only the session's
// status and operation trace; the other stored fields keep their values.
func (s *Store) Update(ctx context.Context, session model.Session, callerID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"session_id": session.ID, "caller_id": callerID}
	update := bson.M{"$set": bson.M{
		"status":          session.Status,
		"operation_trace": toTraceDocuments(session.OperationTrace),
	}}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return sessionstore.ErrNotFound
	}
	return nil
}

// Delete implements sessionstore.Store.
func (s *Store) Delete(ctx context.Context, sessionID, callerID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"session_id": sessionID, "caller_id": callerID}
	res, err := s.coll.DeleteOne(ctx, filter)
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// List implements sessionstore.Store.
func (s *Store) List(ctx context.Context, callerID string, limit int) ([]model.SessionSummary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.coll.Find(ctx, bson.M{"caller_id": callerID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []model.SessionSummary
	for cursor.Next(ctx) {
		var doc sessionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, model.SessionSummary{
			ID:        doc.SessionID,
			CallerID:  doc.CallerID,
			Question:  doc.QuestionText,
			CreatedAt: doc.CreatedAt,
			Status:    doc.Status,
		})
	}
	return out, cursor.Err()
}

// Cleanup implements sessionstore.Store. It deletes in fixed-size batches
// so a large backlog of expired sessions cannot monopolize the connection
// pool for one long-running call, per spec §4.7's "bounded batches"
// requirement; the TTL index created in New handles the steady-state case
// independently of this method.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	const batchSize = 500
	removed := 0
	for {
		batchCtx, cancel := s.withTimeout(ctx)
		var ids []string
		cursor, err := s.coll.Find(batchCtx, bson.M{"created_at": bson.M{"$lt": olderThan}}, options.Find().SetLimit(batchSize).SetProjection(bson.M{"session_id": 1}))
		if err != nil {
			cancel()
			return removed, err
		}
		for cursor.Next(batchCtx) {
			var doc struct {
				SessionID string `bson:"session_id"`
			}
			if err := cursor.Decode(&doc); err != nil {
				cursor.Close(batchCtx)
				cancel()
				return removed, err
			}
			ids = append(ids, doc.SessionID)
		}
		cursor.Close(batchCtx)
		if len(ids) == 0 {
			cancel()
			return removed, nil
		}
		res, err := s.coll.DeleteMany(batchCtx, bson.M{"session_id": bson.M{"$in": ids}})
		cancel()
		if err != nil {
			return removed, err
		}
		removed += int(res.DeletedCount)
		if len(ids) < batchSize {
			return removed, nil
		}
	}
}

func toSession(doc sessionDocument) model.Session {
	return model.Session{
		ID:        doc.SessionID,
		CallerID:  doc.CallerID,
		Question:  model.Question{ID: doc.QuestionID, Text: doc.QuestionText},
		CreatedAt: doc.CreatedAt,
		Status:    doc.Status,
		OperationTrace: func() []model.TraceEntry {
			out := make([]model.TraceEntry, 0, len(doc.OperationTrace))
			for _, t := range doc.OperationTrace {
				out = append(out, model.TraceEntry{
					OpID:      t.OpID,
					SourceID:  t.SourceID,
					Status:    t.Status,
					RowCount:  t.RowCount,
					Error:     t.Error,
					StartedAt: t.StartedAt,
					EndedAt:   t.EndedAt,
				})
			}
			return out
		}(),
	}
}

func toTraceDocuments(entries []model.TraceEntry) []traceDocument {
	out := make([]traceDocument, 0, len(entries))
	for _, e := range entries {
		out = append(out, traceDocument{
			OpID:      e.OpID,
			SourceID:  e.SourceID,
			Status:    e.Status,
			RowCount:  e.RowCount,
			Error:     e.Error,
			StartedAt: e.StartedAt,
			EndedAt:   e.EndedAt,
		})
	}
	return out
}
