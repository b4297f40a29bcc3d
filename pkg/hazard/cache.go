package hazard

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	h3 "github.com/uber/h3-go/v4"
)

// scoutCellResolution mirrors pkg/spatial's H3 resolution so grid-cell
// bucketing in the fusion cache lines up with SpatialIndex's own cells
// (spec §4.4: "grid cell is ~0.01° for quick spatial lookup").
const scoutCellResolution = 9

func scoutCell(lat, lon float64) h3.Cell {
	return h3.LatLngToCell(h3.NewLatLng(lat, lon), scoutCellResolution)
}

// stationEntry pairs an observation with its arrival time for decay/TTL.
type stationEntry struct {
	obs      Observation
	storedAt time.Time
}

// stationCache is the bounded, LRU-evicted map of latest reading per
// station name (spec §4.4: "capped at 100 entries, LRU on overflow").
type stationCache struct {
	mu  sync.RWMutex
	lru *lru.Cache[string, stationEntry]
}

func newStationCache(capacity int) *stationCache {
	c, _ := lru.New[string, stationEntry](capacity)
	return &stationCache{lru: c}
}

func (c *stationCache) Put(name string, obs Observation, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(name, stationEntry{obs: obs, storedAt: at})
}

// Fresh returns every station entry not yet past its TTL as of now.
func (c *stationCache) Fresh(now time.Time) []stationEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []stationEntry
	for _, name := range c.lru.Keys() {
		e, ok := c.lru.Peek(name)
		if !ok {
			continue
		}
		if now.Sub(e.obs.ObservedAt) <= time.Duration(e.obs.TTLSeconds)*time.Second {
			out = append(out, e)
		}
	}
	return out
}

func (c *stationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// scoutEntry is one cached ScoutReport, tagged with the cell it was
// bucketed under so the eviction callback can remove it from the cell
// index too.
type scoutEntry struct {
	id       uint64
	cell     h3.Cell
	report   ScoutReport
	storedAt time.Time
}

// scoutCache is the bounded, LRU-evicted, spatially-bucketed store of
// recent scout reports (spec §4.4: "capped at 1000 entries total, LRU on
// overflow"). Reports are keyed by a monotonic id in the LRU so the global
// cap is exact; a secondary per-cell index supports the "reports within
// 200m" fusion query without scanning every entry.
type scoutCache struct {
	mu      sync.Mutex
	nextID  uint64
	lru     *lru.Cache[uint64, scoutEntry]
	byCell  map[h3.Cell]map[uint64]struct{}
}

func newScoutCache(capacity int) *scoutCache {
	c := &scoutCache{byCell: make(map[h3.Cell]map[uint64]struct{})}
	evicted := func(id uint64, e scoutEntry) {
		// Runs while c.mu is held by Add below (golang-lru calls back
		// synchronously), so no extra locking here.
		if ids, ok := c.byCell[e.cell]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(c.byCell, e.cell)
			}
		}
	}
	l, _ := lru.NewWithEvict[uint64, scoutEntry](capacity, evicted)
	c.lru = l
	return c
}

func (c *scoutCache) Put(report ScoutReport, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	cell := scoutCell(report.Lat, report.Lon)
	c.lru.Add(id, scoutEntry{id: id, cell: cell, report: report, storedAt: at})
	if c.byCell[cell] == nil {
		c.byCell[cell] = make(map[uint64]struct{})
	}
	c.byCell[cell][id] = struct{}{}
}

// Near returns every fresh (non-expired) scout report whose H3 ring
// neighborhood around (lat, lon) out to k rings contains it.
func (c *scoutCache) Near(lat, lon float64, k int, now time.Time) []scoutEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	origin := scoutCell(lat, lon)
	var out []scoutEntry
	for _, cell := range origin.GridDisk(k) {
		for id := range c.byCell[cell] {
			e, ok := c.lru.Peek(id)
			if !ok {
				continue
			}
			if now.Sub(e.report.ObservedAt) > time.Duration(e.report.TTLSeconds)*time.Second {
				continue
			}
			out = append(out, e)
		}
	}
	return out
}

// All returns every fresh (non-expired) scout report in the cache,
// regardless of location. Used for candidate-edge selection, where every
// fresh report's neighborhood must be considered (spec §4.4 step 1c).
func (c *scoutCache) All(now time.Time) []scoutEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []scoutEntry
	for _, id := range c.lru.Keys() {
		e, ok := c.lru.Peek(id)
		if !ok {
			continue
		}
		if now.Sub(e.report.ObservedAt) > time.Duration(e.report.TTLSeconds)*time.Second {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (c *scoutCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
