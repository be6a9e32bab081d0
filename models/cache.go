package models

import (
	"sort"
)

const (
	evictStale     = "stale"
	evictTrim      = "trim"
	evictDestroyed = "destroyed"
)

// TileCache is the registry of all live tiles. It is not safe for
// concurrent use: a viewer owns its cache and only touches it from its frame
// loop.
type TileCache struct {
	tiles map[string]*Tile
}

func NewTileCache() *TileCache {
	return &TileCache{
		tiles: make(map[string]*Tile),
	}
}

// Get returns the tile with the given coordinates, creating an empty one when
// it does not exist yet.
func (c *TileCache) Get(x, y, level int) *Tile {
	return c.GetID(TileID{X: x, Y: y, Level: level})
}

func (c *TileCache) GetID(id TileID) *Tile {
	hash := id.Hash()
	if t, ok := c.tiles[hash]; ok {
		return t
	}

	t := &Tile{TileID: id}
	c.tiles[hash] = t
	instrumentTileCreated()
	return t
}

// ByHash returns the tile registered under hash, without creating it.
func (c *TileCache) ByHash(hash string) (*Tile, bool) {
	t, ok := c.tiles[hash]
	return t, ok
}

// WithPoint returns the tile at level that contains p.
func (c *TileCache) WithPoint(level int, p Complex) *Tile {
	return c.GetID(TileIDWithPoint(level, p))
}

func (c *TileCache) Parent(t *Tile) *Tile {
	return c.GetID(t.ParentID())
}

// Destroy releases the tile raster and removes it from the cache.
func (c *TileCache) Destroy(t *Tile) {
	c.destroy(t, evictDestroyed)
}

func (c *TileCache) destroy(t *Tile, reason string) {
	t.Release()

	hash := t.Hash()
	if current, ok := c.tiles[hash]; !ok || current != t {
		return
	}
	delete(c.tiles, hash)
	instrumentTileEvicted(reason)
}

// DeleteStaleCache evicts every tile that was not used during the frame ts
// and whose raster was not rendered for the config fingerprint. It returns
// the number of evicted tiles.
func (c *TileCache) DeleteStaleCache(ts Timestamp, fingerprint string) int {
	var n int
	for _, t := range c.tiles {
		if t.LastUsedAt == ts || t.RenderedForConfig == fingerprint {
			continue
		}
		c.destroy(t, evictStale)
		n++
	}
	return n
}

// Trim evicts least recently used tiles until at most max tiles remain.
// Tiles used during the frame ts and tiles with a pending render job are
// kept, so the cache may stay above max. A max lower or equal to zero
// disables trimming.
func (c *TileCache) Trim(ts Timestamp, max int) int {
	if max <= 0 || len(c.tiles) <= max {
		return 0
	}

	candidates := make([]*Tile, 0, len(c.tiles))
	for _, t := range c.tiles {
		if t.LastUsedAt == ts {
			continue
		}
		if t.Status != TileEmpty && t.Status != TileReady {
			continue
		}
		candidates = append(candidates, t)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LastUsedAt != candidates[j].LastUsedAt {
			return candidates[i].LastUsedAt < candidates[j].LastUsedAt
		}
		return candidates[i].Hash() < candidates[j].Hash()
	})

	var n int
	for _, t := range candidates {
		if len(c.tiles) <= max {
			break
		}
		c.destroy(t, evictTrim)
		n++
	}
	return n
}

func (c *TileCache) Len() int {
	return len(c.tiles)
}

// Count returns the number of tiles per status.
func (c *TileCache) Count() map[TileStatus]int {
	count := make(map[TileStatus]int)
	for _, t := range c.tiles {
		count[t.Status]++
	}
	return count
}

// Close destroys every tile.
func (c *TileCache) Close() {
	for _, t := range c.tiles {
		c.destroy(t, evictDestroyed)
	}
}
