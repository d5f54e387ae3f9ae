package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

type backend interface {
	Insert(ctx context.Context, collection string, record domain.Record) (string, error)
	Update(ctx context.Context, collection, id string, partial domain.Record) error
	Delete(ctx context.Context, collection, id string) error
	QueryByField(ctx context.Context, collection, field string, value any) ([]domain.Document, error)
}

// DefaultCachedFields are the fields whose query results Cache keeps.
var DefaultCachedFields = []string{domain.FieldUserID}

// Cache wraps a document store with Redis-backed caching for field queries.
// Writes evict the cached queries they can affect.
type Cache struct {
	base   backend
	redis  *redis.Client
	ttl    time.Duration
	fields map[string]bool
}

type cachedDocument struct {
	ID     string        `json:"id"`
	Record domain.Record `json:"record"`
}

// NewCache creates a caching store wrapper using the provided Redis client and TTL.
// Only queries on fields are cached; nil fields means DefaultCachedFields.
func NewCache(base backend, client *redis.Client, ttl time.Duration, fields ...string) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if len(fields) == 0 {
		fields = DefaultCachedFields
	}
	c := &Cache{
		base:   base,
		redis:  client,
		ttl:    ttl,
		fields: make(map[string]bool, len(fields)),
	}
	for _, f := range fields {
		c.fields[f] = true
	}
	return c
}

func (c *Cache) Insert(ctx context.Context, collection string, record domain.Record) (string, error) {
	id, err := c.base.Insert(ctx, collection, record)
	if err != nil {
		return "", err
	}
	c.evictRecord(ctx, collection, id, record)
	return id, nil
}

func (c *Cache) Update(ctx context.Context, collection, id string, partial domain.Record) error {
	err := c.base.Update(ctx, collection, id, partial)
	// The remote may have applied the write even when it reported an error.
	c.evictRecord(ctx, collection, id, partial)
	return err
}

func (c *Cache) Delete(ctx context.Context, collection, id string) error {
	err := c.base.Delete(ctx, collection, id)
	c.evictRecord(ctx, collection, id, nil)
	return err
}

func (c *Cache) QueryByField(ctx context.Context, collection, field string, value any) ([]domain.Document, error) {
	if !c.fields[field] {
		return c.base.QueryByField(ctx, collection, field, value)
	}
	key := queryCacheKey(collection, field, value)
	if docs, ok := c.loadQuery(ctx, key); ok {
		return docs, nil
	}

	docs, err := c.base.QueryByField(ctx, collection, field, value)
	if err != nil {
		return nil, err
	}
	c.storeQuery(ctx, collection, key, docs)
	return docs, nil
}

func (c *Cache) loadQuery(ctx context.Context, key string) ([]domain.Document, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var cached []cachedDocument
	if err := json.Unmarshal(data, &cached); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	docs := make([]domain.Document, len(cached))
	for i, d := range cached {
		docs[i] = domain.Document{ID: d.ID, Record: d.Record}
	}
	return docs, true
}

// storeQuery caches docs under key and points every returned id at key so a
// later write to that id evicts it.
func (c *Cache) storeQuery(ctx context.Context, collection, key string, docs []domain.Document) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	cached := make([]cachedDocument, len(docs))
	for i, d := range docs {
		cached[i] = cachedDocument{ID: d.ID, Record: d.Record}
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, key, data, c.ttl)
	for _, d := range docs {
		pipe.SAdd(ctx, ownerCacheKey(collection, d.ID), key)
		pipe.Expire(ctx, ownerCacheKey(collection, d.ID), c.ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func (c *Cache) evictRecord(ctx context.Context, collection, id string, record domain.Record) {
	if c.redis == nil {
		return
	}
	keys := []string{ownerCacheKey(collection, id)}
	for field := range c.fields {
		if v, ok := record[field]; ok {
			keys = append(keys, queryCacheKey(collection, field, v))
		}
	}
	if linked, err := c.redis.SMembers(ctx, ownerCacheKey(collection, id)).Result(); err == nil {
		keys = append(keys, linked...)
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func queryCacheKey(collection, field string, value any) string {
	return fmt.Sprintf("docs:%s:%s:%v", collection, field, value)
}

func ownerCacheKey(collection, id string) string {
	return "doc-queries:" + collection + ":" + id
}
