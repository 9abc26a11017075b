// Package storage provides durable session.Storage backends for the persisted
// session projection: a JSON file per key, a SQL table through bun, and Redis.
//
// Every backend returns (nil, nil) from Load when the key has never been saved.
package storage
