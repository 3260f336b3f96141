// Package redis implements store.Store on Redis using go-redis/v9.
//
// Each entity is a Hash. A Sorted Set per (type, state), scored by state
// timestamp, serves eligibility scans, and per-type plus global Sorted Sets
// scored by creation time serve List. Every compare-and-swap runs as a Lua
// script, so lease acquisition and saves are atomic on the server.
//
// The scripts touch keys derived from the entity they read, so the store
// targets a single Redis node or a client pinned to one shard.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
