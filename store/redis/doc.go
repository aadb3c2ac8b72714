// Package redis implements store.Store on Redis with go-redis/v9.
//
// Records are msgpack-encoded strings. Every job is indexed in a sorted set
// per state scored by update time, Scheduled jobs additionally in a sorted
// set scored by due time, and each signature in a hash of job id to state.
// Writes run in WATCH/MULTI transactions so a concurrent change to the same
// job aborts the write instead of overwriting it.
//
// All keys share the {shepherd} hash tag, so the store also works against a
// Redis Cluster through a UniversalClient.
//
//	client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
