package keyValue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type value struct {
	value   string
	expires time.Time
}

// Cache is a TTL key/value store backed by redis, or a local map in
// selfContained mode.
type Cache struct {
	sugar         *zap.SugaredLogger
	redisClient   *redis.Client
	selfContained bool

	mutex   sync.RWMutex
	hashmap map[string]value
}

var redisCtx = context.Background()

func NewCache(sugar *zap.SugaredLogger, redisClient *redis.Client, selfContained bool) *Cache {
	cache := &Cache{
		sugar:         sugar,
		redisClient:   redisClient,
		selfContained: selfContained,
		hashmap:       make(map[string]value),
	}

	if selfContained {
		go cache.checkForLocalExpiredKeys()
	}

	return cache
}

func (c *Cache) checkForLocalExpiredKeys() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mutex.Lock()
		for key, v := range c.hashmap {
			if v.expires.Before(time.Now()) {
				delete(c.hashmap, key)
			}
		}
		c.mutex.Unlock()
	}
}

func (c *Cache) Get(key string) (string, error) {
	if c.selfContained {
		c.mutex.RLock()
		defer c.mutex.RUnlock()

		entry := c.hashmap[key]
		if !entry.expires.IsZero() && entry.expires.Before(time.Now()) {
			return "", nil
		}
		return entry.value, nil
	}

	result, err := c.redisClient.Get(redisCtx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return result, err
}

func (c *Cache) GetDel(key string) (string, error) {
	if c.selfContained {
		c.mutex.Lock()
		defer c.mutex.Unlock()

		entry := c.hashmap[key]
		delete(c.hashmap, key)

		if !entry.expires.IsZero() && entry.expires.Before(time.Now()) {
			return "", nil
		}
		return entry.value, nil
	}

	result, err := c.redisClient.GetDel(redisCtx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return result, err
}

func (c *Cache) Set(key string, val string, expires time.Duration) error {
	if c.selfContained {
		c.mutex.Lock()
		defer c.mutex.Unlock()

		c.hashmap[key] = value{val, time.Now().Add(expires)}

		return nil
	}

	_, err := c.redisClient.Set(redisCtx, key, val, expires).Result()
	return err
}
