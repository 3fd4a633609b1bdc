package odoo

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Odoo writes false for an empty value of any type, so char, integer and
// many2one fields all need lenient decoding.

var falseJSON = []byte("false")

func empty(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, falseJSON) || bytes.Equal(data, []byte("null"))
}

type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if empty(data) {
		*s = ""
		return nil
	}
	var v string
	if err := sonic.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = flexString(v)
	return nil
}

type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	if empty(data) {
		*n = 0
		return nil
	}
	var v float64
	if err := sonic.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = flexInt(v)
	return nil
}

// many2one is a relational value, [id, "display name"] or false.
type many2one struct {
	ID   int64
	Name string
}

func (m *many2one) UnmarshalJSON(data []byte) error {
	*m = many2one{}
	if empty(data) {
		return nil
	}
	var pair []any
	if err := sonic.Unmarshal(data, &pair); err != nil {
		var id float64
		if err2 := sonic.Unmarshal(data, &id); err2 != nil {
			return fmt.Errorf("many2one: %w", err)
		}
		m.ID = int64(id)
		return nil
	}
	if len(pair) > 0 {
		if id, ok := pair[0].(float64); ok {
			m.ID = int64(id)
		}
	}
	if len(pair) > 1 {
		if name, ok := pair[1].(string); ok {
			m.Name = name
		}
	}
	return nil
}

// cond builds one domain condition.
func cond(field, op string, value any) []any {
	return []any{field, op, value}
}

// domain wraps conditions as the first positional argument of search.
func domain(conds ...[]any) []any {
	d := make([]any, 0, len(conds))
	for _, c := range conds {
		d = append(d, c)
	}
	return []any{d}
}

// searchRead runs model.search_read with domain and kwargs.
func (c *Client) searchRead(ctx context.Context, model string, conds [][]any, fields []string, kwargs map[string]any, out any) error {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	kwargs["fields"] = fields
	return c.Call(ctx, model, "search_read", domain(conds...), kwargs, out)
}

// create runs model.create and returns the new id.
func (c *Client) create(ctx context.Context, model string, values map[string]any) (int64, error) {
	var id flexInt
	if err := c.Call(ctx, model, "create", []any{values}, nil, &id); err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("odoo %s.create returned no id", model)
	}
	return int64(id), nil
}

// write runs model.write on ids.
func (c *Client) write(ctx context.Context, model string, ids []int64, values map[string]any) error {
	return c.Call(ctx, model, "write", []any{ids, values}, nil, nil)
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// cache keeps slowly changing catalogs such as leave types and projects.
type cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newCache(ttl time.Duration, now func() time.Time) *cache {
	return &cache{ttl: ttl, now: now, entries: make(map[string]cacheEntry)}
}

func (c *cache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *cache) set(key string, value any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(c.ttl)}
}

// Invalidate drops every cached catalog.
func (c *Client) Invalidate() {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	c.cache.entries = make(map[string]cacheEntry)
}

// cached returns the catalog under key, loading it once for all
// concurrent callers when it is missing or stale.
func cached[T any](c *Client, key string, load func() (T, error)) (T, error) {
	if v, ok := c.cache.get(key); ok {
		return v.(T), nil
	}
	v, err, _ := c.group.Do("cache:"+key, func() (interface{}, error) {
		out, err := load()
		if err != nil {
			return nil, err
		}
		c.cache.set(key, out)
		return out, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
