package formula

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of parsed programs kept by a Cache.
const DefaultCacheSize = 1024

// Cache keeps parsed programs keyed by source text, evicting the least
// recently used. Programs are immutable once parsed, so a cached value can
// be evaluated concurrently.
type Cache struct {
	programs  *lru.Cache[string, *Program]
	maxLength int
}

// NewCache creates a cache holding at most maxSize programs and parsing
// with the given maximum formula length. Non-positive values select the
// defaults.
func NewCache(maxSize, maxLength int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	// lru.New only fails for a non-positive size
	programs, _ := lru.New[string, *Program](maxSize)
	return &Cache{
		programs:  programs,
		maxLength: maxLength,
	}
}

// Parse returns the cached program for source, parsing it on a miss.
// Parse failures are not cached.
func (c *Cache) Parse(source string) (*Program, error) {
	if prog, ok := c.programs.Get(source); ok {
		return prog, nil
	}

	prog, err := Parse(source, WithMaxLength(c.maxLength))
	if err != nil {
		return nil, err
	}

	// another goroutine may have parsed the same source meanwhile
	if existing, ok, _ := c.programs.PeekOrAdd(source, prog); ok {
		return existing, nil
	}
	return prog, nil
}

// MaxLength returns the maximum formula length used for parsing.
func (c *Cache) MaxLength() int {
	return c.maxLength
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	return c.programs.Len()
}
