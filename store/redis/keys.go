package redis

import "github.com/eclipse-edc/Connector-sub001/entity"

// Key layout, relative to the store prefix (default "connector:"):
//
//	entity:{id}          Hash with the entity fields
//	due:{type}:{state}   Sorted Set of ids scored by state timestamp (µs)
//	type:{type}          Sorted Set of ids scored by creation time (µs)
//	entities             Sorted Set of all ids scored by creation time (µs)
const defaultKeyPrefix = "connector:"

func (s *Store) entityPrefix() string { return s.prefix + "entity:" }

func (s *Store) entityKey(id string) string { return s.entityPrefix() + id }

func (s *Store) duePrefix() string { return s.prefix + "due:" }

func (s *Store) dueKey(typ entity.Type, state entity.State) string {
	return s.duePrefix() + string(typ) + ":" + string(state)
}

func (s *Store) typeIndexKey(typ entity.Type) string { return s.prefix + "type:" + string(typ) }

func (s *Store) allIndexKey() string { return s.prefix + "entities" }
