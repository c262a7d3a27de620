package descriptor

import (
	lru "github.com/hashicorp/golang-lru"
)

// Cache is an LRU of parsed descriptors keyed by the full descriptor
// string, capacity 50 per §4.3.
type Cache struct {
	lru *lru.Cache
}

// NewCache constructs a descriptor result cache with capacity 50.
func NewCache() (*Cache, error) {
	c, err := lru.New(50)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// ParseCached parses expr, serving a cached Info when expr has been parsed
// before.
func (c *Cache) ParseCached(expr string) (*Info, error) {
	if v, ok := c.lru.Get(expr); ok {
		return v.(*Info), nil
	}
	info, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	c.lru.Add(expr, info)
	return info, nil
}
