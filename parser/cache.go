package parser

import (
	"sync"

	"github.com/wudi/pdfdoc/object"
)

// Cache stores loaded indirect objects keyed by reference.
type Cache interface {
	Get(ref object.Ref) (object.Object, bool)
	Put(ref object.Ref, obj object.Object)
}

// MapCache is the default Cache: a mutex-guarded map with no eviction.
// Object graphs are bounded by the file, so unbounded retention is
// acceptable for a loaded document's lifetime.
type MapCache struct {
	mu sync.Mutex
	m  map[object.Ref]object.Object
}

func NewMapCache() *MapCache {
	return &MapCache{m: make(map[object.Ref]object.Object)}
}

func (c *MapCache) Get(ref object.Ref) (object.Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.m[ref]
	return obj, ok
}

func (c *MapCache) Put(ref object.Ref, obj object.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[object.Ref]object.Object)
	}
	c.m[ref] = obj
}
