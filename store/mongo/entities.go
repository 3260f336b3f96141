package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/id"
)

type entityModel struct {
	ID           string `bson:"_id"`
	Type         string `bson:"type"`
	State        string `bson:"state"`
	StateTS      int64  `bson:"state_ts"`
	Version      int64  `bson:"version"`
	LeaseHolder  string `bson:"lease_holder"`
	LeaseExpiry  *int64 `bson:"lease_expiry"`
	AttemptCount int    `bson:"attempt_count"`
	ErrorDetail  string `bson:"error_detail"`
	Payload      []byte `bson:"payload,omitempty"`
	CreatedAt    int64  `bson:"created_at"`
	UpdatedAt    int64  `bson:"updated_at"`
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func toEntityModel(e *entity.Entity) *entityModel {
	m := &entityModel{
		ID:           e.ID.String(),
		Type:         string(e.Type),
		State:        string(e.State),
		StateTS:      toNanos(e.StateTimestamp),
		Version:      e.Version,
		LeaseHolder:  e.LeaseHolder,
		AttemptCount: e.AttemptCount,
		ErrorDetail:  e.ErrorDetail,
		Payload:      e.Payload,
		CreatedAt:    toNanos(e.CreatedAt),
		UpdatedAt:    toNanos(e.UpdatedAt),
	}
	if e.LeaseExpiry != nil {
		n := toNanos(*e.LeaseExpiry)
		m.LeaseExpiry = &n
	}
	return m
}

func fromEntityModel(m *entityModel) (*entity.Entity, error) {
	entityID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	e := &entity.Entity{
		ID:             entityID,
		Type:           entity.Type(m.Type),
		State:          entity.State(m.State),
		StateTimestamp: fromNanos(m.StateTS),
		Version:        m.Version,
		LeaseHolder:    m.LeaseHolder,
		AttemptCount:   m.AttemptCount,
		ErrorDetail:    m.ErrorDetail,
		Payload:        m.Payload,
		CreatedAt:      fromNanos(m.CreatedAt),
		UpdatedAt:      fromNanos(m.UpdatedAt),
	}
	if m.LeaseExpiry != nil {
		t := fromNanos(*m.LeaseExpiry)
		e.LeaseExpiry = &t
	}
	return e, nil
}

// leaseFree matches documents nobody holds an unexpired lease on at now.
func leaseFree(now int64) bson.A {
	return bson.A{
		bson.M{"lease_holder": ""},
		bson.M{"lease_expiry": nil},
		bson.M{"lease_expiry": bson.M{"$lte": now}},
	}
}

// Create persists a new entity at version 0.
func (s *Store) Create(ctx context.Context, e *entity.Entity) error {
	m := toEntityModel(e)
	m.Version = 0
	if _, err := s.entities().InsertOne(ctx, m); err != nil {
		if isDuplicateKey(err) {
			return connector.ErrEntityExists
		}
		return fmt.Errorf("connector/mongo: create entity: %w", err)
	}
	e.Version = 0
	return nil
}

// Get retrieves an entity by ID.
func (s *Store) Get(ctx context.Context, entityID id.ID) (*entity.Entity, error) {
	var m entityModel
	err := s.entities().FindOne(ctx, bson.M{"_id": entityID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, connector.ErrEntityNotFound
		}
		return nil, fmt.Errorf("connector/mongo: get entity: %w", err)
	}
	return fromEntityModel(&m)
}

// List returns entities matching opts ordered by creation time.
func (s *Store) List(ctx context.Context, opts entity.ListOpts) ([]*entity.Entity, error) {
	filter := bson.M{}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	return s.find(ctx, "list entities", filter, findOpts)
}

// FindEligible returns up to limit unleased, due entities of typ in states,
// oldest state timestamp first. A non-positive limit returns all of them.
func (s *Store) FindEligible(ctx context.Context, typ entity.Type, states []entity.State, limit int) ([]*entity.Entity, error) {
	if len(states) == 0 {
		return nil, nil
	}

	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}

	now := toNanos(s.clock.Now())
	filter := bson.M{
		"type":     string(typ),
		"state":    bson.M{"$in": names},
		"state_ts": bson.M{"$lte": now},
		"$or":      leaseFree(now),
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "state_ts", Value: 1},
		{Key: "_id", Value: 1},
	})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	return s.find(ctx, "find eligible", filter, findOpts)
}

// TryAcquireLease sets the lease with one conditional UpdateOne.
func (s *Store) TryAcquireLease(ctx context.Context, entityID id.ID, holder string, ttl time.Duration, expectedVersion int64) (bool, error) {
	now := s.clock.Now()
	filter := bson.M{
		"_id":     entityID.String(),
		"version": expectedVersion,
		"$or":     leaseFree(toNanos(now)),
	}
	update := bson.M{"$set": bson.M{
		"lease_holder": holder,
		"lease_expiry": toNanos(now.Add(ttl)),
	}}

	res, err := s.entities().UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("connector/mongo: acquire lease: %w", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, entityID)
}

// Save writes e's mutable fields if the stored version equals
// expectedVersion, storing expectedVersion+1.
func (s *Store) Save(ctx context.Context, e *entity.Entity, expectedVersion int64, opts ...entity.SaveOption) error {
	o := entity.ApplySaveOptions(opts)
	now := s.clock.Now().UTC()
	m := toEntityModel(e)

	filter := bson.M{"_id": m.ID, "version": expectedVersion}
	if o.Holder != "" {
		filter["lease_holder"] = o.Holder
	}
	update := bson.M{"$set": bson.M{
		"state":         m.State,
		"state_ts":      m.StateTS,
		"version":       expectedVersion + 1,
		"lease_holder":  m.LeaseHolder,
		"lease_expiry":  m.LeaseExpiry,
		"attempt_count": m.AttemptCount,
		"error_detail":  m.ErrorDetail,
		"payload":       m.Payload,
		"updated_at":    toNanos(now),
	}}

	res, err := s.entities().UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("connector/mongo: save entity: %w", err)
	}
	if res.MatchedCount == 0 {
		if err := s.mustExist(ctx, e.ID); err != nil {
			return err
		}
		return connector.ErrVersionConflict
	}

	e.Version = expectedVersion + 1
	e.UpdatedAt = now
	return nil
}

// Release clears the lease if holder owns it.
func (s *Store) Release(ctx context.Context, entityID id.ID, holder string) error {
	res, err := s.entities().UpdateOne(ctx,
		bson.M{"_id": entityID.String(), "lease_holder": holder},
		bson.M{"$set": bson.M{"lease_holder": "", "lease_expiry": nil}},
	)
	if err != nil {
		return fmt.Errorf("connector/mongo: release lease: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	return s.mustExist(ctx, entityID)
}

func (s *Store) mustExist(ctx context.Context, entityID id.ID) error {
	n, err := s.entities().CountDocuments(ctx, bson.M{"_id": entityID.String()})
	if err != nil {
		return fmt.Errorf("connector/mongo: lookup entity: %w", err)
	}
	if n == 0 {
		return connector.ErrEntityNotFound
	}
	return nil
}

func (s *Store) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*entity.Entity, error) {
	cur, err := s.entities().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("connector/mongo: %s: %w", op, err)
	}
	defer cur.Close(ctx)

	var models []entityModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("connector/mongo: %s: decode: %w", op, err)
	}

	out := make([]*entity.Entity, 0, len(models))
	for i := range models {
		e, err := fromEntityModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("connector/mongo: %s: %w", op, err)
		}
		out = append(out, e)
	}
	return out, nil
}
