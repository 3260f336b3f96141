package redis

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/id"
)

func nanos(t time.Time) string { return strconv.FormatInt(t.UTC().UnixNano(), 10) }

func score(t time.Time) float64 { return float64(t.UTC().UnixMicro()) }

func optionalNanos(t *time.Time) string {
	if t == nil {
		return ""
	}
	return nanos(*t)
}

// mutableFields returns the field/value pairs Save rewrites.
func mutableFields(e *entity.Entity, version int64, updatedAt time.Time) []any {
	return []any{
		"state", string(e.State),
		"state_ts", nanos(e.StateTimestamp),
		"version", strconv.FormatInt(version, 10),
		"lease_holder", e.LeaseHolder,
		"lease_expiry", optionalNanos(e.LeaseExpiry),
		"attempt_count", strconv.Itoa(e.AttemptCount),
		"error_detail", e.ErrorDetail,
		"payload", string(e.Payload),
		"updated_at", nanos(updatedAt),
	}
}

func parseNanos(m map[string]string, field string) (time.Time, error) {
	n, err := strconv.ParseInt(m[field], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", field, err)
	}
	return time.Unix(0, n).UTC(), nil
}

func entityFromMap(m map[string]string) (*entity.Entity, error) {
	entityID, err := id.Parse(m["id"])
	if err != nil {
		return nil, err
	}

	e := &entity.Entity{
		ID:          entityID,
		Type:        entity.Type(m["type"]),
		State:       entity.State(m["state"]),
		LeaseHolder: m["lease_holder"],
		ErrorDetail: m["error_detail"],
	}
	if p := m["payload"]; p != "" {
		e.Payload = []byte(p)
	}
	if e.Version, err = strconv.ParseInt(m["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("field version: %w", err)
	}
	if e.AttemptCount, err = strconv.Atoi(m["attempt_count"]); err != nil {
		return nil, fmt.Errorf("field attempt_count: %w", err)
	}
	if e.StateTimestamp, err = parseNanos(m, "state_ts"); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseNanos(m, "created_at"); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseNanos(m, "updated_at"); err != nil {
		return nil, err
	}
	if m["lease_expiry"] != "" {
		t, err := parseNanos(m, "lease_expiry")
		if err != nil {
			return nil, err
		}
		e.LeaseExpiry = &t
	}
	return e, nil
}

// Create stores the entity Hash and indexes it in one script call.
func (s *Store) Create(ctx context.Context, e *entity.Entity) error {
	eID := e.ID.String()
	args := []any{eID, score(e.StateTimestamp), score(e.CreatedAt),
		"id", eID,
		"type", string(e.Type),
		"created_at", nanos(e.CreatedAt),
	}
	args = append(args, mutableFields(e, 0, e.UpdatedAt)...)

	res, err := createScript.Run(ctx, s.client,
		[]string{s.entityKey(eID), s.dueKey(e.Type, e.State), s.typeIndexKey(e.Type), s.allIndexKey()},
		args...,
	).Int()
	if err != nil {
		return fmt.Errorf("connector/redis: create entity: %w", err)
	}
	if res == scriptRejected {
		return connector.ErrEntityExists
	}
	e.Version = 0
	return nil
}

// Get retrieves an entity by ID.
func (s *Store) Get(ctx context.Context, entityID id.ID) (*entity.Entity, error) {
	m, err := s.client.HGetAll(ctx, s.entityKey(entityID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("connector/redis: get entity: %w", err)
	}
	if len(m) == 0 {
		return nil, connector.ErrEntityNotFound
	}
	e, err := entityFromMap(m)
	if err != nil {
		return nil, fmt.Errorf("connector/redis: decode entity %s: %w", entityID, err)
	}
	return e, nil
}

// List returns entities matching opts ordered by creation time.
func (s *Store) List(ctx context.Context, opts entity.ListOpts) ([]*entity.Entity, error) {
	index := s.allIndexKey()
	if opts.Type != "" {
		index = s.typeIndexKey(opts.Type)
	}

	members, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("connector/redis: list entities: %w", err)
	}

	all, err := s.load(ctx, members)
	if err != nil {
		return nil, err
	}

	result := make([]*entity.Entity, 0, len(all))
	for _, e := range all {
		if opts.State != "" && e.State != opts.State {
			continue
		}
		result = append(result, e)
	}
	slices.SortFunc(result, func(a, b *entity.Entity) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// FindEligible returns up to limit unleased, due entities of typ in states,
// oldest state timestamp first. A non-positive limit returns all of them.
func (s *Store) FindEligible(ctx context.Context, typ entity.Type, states []entity.State, limit int) ([]*entity.Entity, error) {
	if len(states) == 0 {
		return nil, nil
	}
	if limit < 0 {
		limit = 0
	}

	keys := make([]string, len(states))
	for i, st := range states {
		keys[i] = s.dueKey(typ, st)
	}

	now := s.clock.Now()
	members, err := findScript.Run(ctx, s.client, keys,
		score(now), nanos(now), limit, s.entityPrefix(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("connector/redis: find eligible: %w", err)
	}

	candidates, err := s.load(ctx, members)
	if err != nil {
		return nil, err
	}

	// Scores are microseconds; recheck at full precision.
	result := candidates[:0]
	for _, e := range candidates {
		if e.Type == typ && slices.Contains(states, e.State) && e.Eligible(now) {
			result = append(result, e)
		}
	}
	slices.SortFunc(result, func(a, b *entity.Entity) int {
		if c := a.StateTimestamp.Compare(b.StateTimestamp); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// TryAcquireLease sets the lease if the version matches and the lease is free.
func (s *Store) TryAcquireLease(ctx context.Context, entityID id.ID, holder string, ttl time.Duration, expectedVersion int64) (bool, error) {
	now := s.clock.Now()
	res, err := acquireScript.Run(ctx, s.client, []string{s.entityKey(entityID.String())},
		expectedVersion, holder, nanos(now.Add(ttl)), nanos(now),
	).Int()
	if err != nil {
		return false, fmt.Errorf("connector/redis: acquire lease: %w", err)
	}
	switch res {
	case scriptMissing:
		return false, connector.ErrEntityNotFound
	case scriptApplied:
		return true, nil
	default:
		return false, nil
	}
}

// Save writes e if the stored version equals expectedVersion.
func (s *Store) Save(ctx context.Context, e *entity.Entity, expectedVersion int64, opts ...entity.SaveOption) error {
	o := entity.ApplySaveOptions(opts)
	now := s.clock.Now().UTC()
	eID := e.ID.String()

	args := []any{expectedVersion, o.Holder, s.duePrefix(), eID, string(e.State), score(e.StateTimestamp)}
	args = append(args, mutableFields(e, expectedVersion+1, now)...)

	res, err := saveScript.Run(ctx, s.client, []string{s.entityKey(eID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("connector/redis: save entity: %w", err)
	}
	switch res {
	case scriptMissing:
		return connector.ErrEntityNotFound
	case scriptRejected:
		return connector.ErrVersionConflict
	}

	e.Version = expectedVersion + 1
	e.UpdatedAt = now
	return nil
}

// Release clears the lease when held by holder.
func (s *Store) Release(ctx context.Context, entityID id.ID, holder string) error {
	res, err := releaseScript.Run(ctx, s.client, []string{s.entityKey(entityID.String())}, holder).Int()
	if err != nil {
		return fmt.Errorf("connector/redis: release lease: %w", err)
	}
	if res == scriptMissing {
		return connector.ErrEntityNotFound
	}
	return nil
}

// load fetches the Hashes for ids in one pipeline, skipping ids whose Hash
// has gone.
func (s *Store) load(ctx context.Context, ids []string) ([]*entity.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, eID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.entityKey(eID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("connector/redis: load entities: %w", err)
	}

	out := make([]*entity.Entity, 0, len(ids))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		e, err := entityFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("connector/redis: decode entity %s: %w", ids[i], err)
		}
		out = append(out, e)
	}
	return out, nil
}
