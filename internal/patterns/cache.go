package patterns

import (
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of compiled sets kept in memory.
const DefaultCacheSize = 50

// Cache holds compiled sets keyed by set identity.
type Cache struct {
	lru    *lru.Cache[string, *Compiled]
	logger *slog.Logger
}

// NewCache creates a bounded compiled-set cache.
func NewCache(size int, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *Compiled](size)
	if err != nil {
		return nil, fmt.Errorf("pattern cache: %w", err)
	}
	return &Cache{lru: c, logger: logger}, nil
}

// Get returns the compiled form of s, compiling on a miss.
func (c *Cache) Get(s Set) (*Compiled, error) {
	id := s.Identity()
	if hit, ok := c.lru.Get(id); ok {
		return hit, nil
	}
	compiled, err := Compile(s)
	if err != nil {
		c.logger.Error("pattern set failed to compile", "set", s.Name, "error", err)
		return nil, err
	}
	c.lru.Add(id, compiled)
	c.logger.Debug("pattern set compiled", "set", s.Name, "identity", id[:12])
	return compiled, nil
}

// Invalidate drops the compiled form of s.
func (c *Cache) Invalidate(s Set) {
	c.lru.Remove(s.Identity())
}

// Purge drops every compiled set.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len returns the number of cached sets.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Library holds the named pattern sets available to the pipeline.
type Library struct {
	mu     sync.RWMutex
	sets   map[string]Set
	cache  *Cache
	logger *slog.Logger
}

// NewLibrary returns a library seeded with the built-in sets.
func NewLibrary(cache *Cache, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{sets: Builtin(), cache: cache, logger: logger}
}

// Put adds or replaces a set. The set is compiled first; an invalid set leaves the library unchanged.
func (l *Library) Put(s Set) error {
	compiled, err := Compile(s)
	if err != nil {
		return err
	}
	l.mu.Lock()
	old, existed := l.sets[s.Name]
	l.sets[s.Name] = s.Clone()
	l.mu.Unlock()

	if existed && old.Identity() != s.Identity() {
		l.cache.Invalidate(old)
		l.logger.Info("pattern set replaced", "set", s.Name)
	}
	l.cache.lru.Add(compiled.Identity(), compiled)
	return nil
}

// Load reads a pattern file and puts every set it defines.
func (l *Library) Load(path string) error {
	sets, err := LoadFile(path)
	if err != nil {
		return err
	}
	for _, s := range sets {
		if err := l.Put(s); err != nil {
			return err
		}
	}
	l.logger.Info("pattern file loaded", "path", path, "sets", len(sets))
	return nil
}

// Set returns a copy of the named set.
func (l *Library) Set(name string) (Set, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sets[name]
	if !ok {
		return Set{}, false
	}
	return s.Clone(), true
}

// Compiled returns the compiled form of the named set.
func (l *Library) Compiled(name string) (*Compiled, error) {
	s, ok := l.Set(name)
	if !ok {
		return nil, fmt.Errorf("pattern set %q not found", name)
	}
	return l.cache.Get(s)
}

// Names returns the names of all sets.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.sets))
	for n := range l.sets {
		out = append(out, n)
	}
	return out
}
