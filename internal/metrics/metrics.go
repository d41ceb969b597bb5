// Package metrics collects plain atomic counters for the scheduler,
// cache, and set engines and renders them in Prometheus text exposition
// format, the way a host binary would scrape them.
package metrics

import (
	"fmt"
	"sync/atomic"
)

// Collector gathers counters across all three engines. The zero value
// is ready to use; pass the same *Collector to every engine instance
// that should report into it.
type Collector struct {
	cacheHits   int64
	cacheMisses int64
	cachePuts   int64

	setLookups  int64
	setCreated  int64
	setGCCycles int64
	setReclaims int64

	schedSpawns  int64
	schedSteals  int64
	schedLeaps   int64
	schedInlined int64
}

// New creates an empty Collector.
func New() *Collector {
	return &Collector{}
}

func (c *Collector) RecordCacheHit()  { atomic.AddInt64(&c.cacheHits, 1) }
func (c *Collector) RecordCacheMiss() { atomic.AddInt64(&c.cacheMisses, 1) }
func (c *Collector) RecordCachePut()  { atomic.AddInt64(&c.cachePuts, 1) }

func (c *Collector) RecordSetLookup()   { atomic.AddInt64(&c.setLookups, 1) }
func (c *Collector) RecordSetCreated()  { atomic.AddInt64(&c.setCreated, 1) }
func (c *Collector) RecordSetGCCycle()  { atomic.AddInt64(&c.setGCCycles, 1) }
func (c *Collector) RecordSetReclaim()  { atomic.AddInt64(&c.setReclaims, 1) }

// AddSchedulerStats folds a scheduler.Stats-shaped snapshot in. Kept
// as plain int64 arguments rather than importing the scheduler package
// here, avoiding a cyclic dependency between the two.
func (c *Collector) AddSchedulerStats(spawns, steals, leaps, inlined int64) {
	atomic.AddInt64(&c.schedSpawns, spawns)
	atomic.AddInt64(&c.schedSteals, steals)
	atomic.AddInt64(&c.schedLeaps, leaps)
	atomic.AddInt64(&c.schedInlined, inlined)
}

// CacheHitRatio returns the fraction of cache lookups that hit, or 0
// if there have been no lookups yet.
func (c *Collector) CacheHitRatio() float64 {
	hits := atomic.LoadInt64(&c.cacheHits)
	misses := atomic.LoadInt64(&c.cacheMisses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// ExportPrometheus renders every counter in Prometheus text exposition
// format.
func (c *Collector) ExportPrometheus() string {
	var out string

	out += "# HELP laceset_cache_hits_total Cache lookups that found an entry\n"
	out += "# TYPE laceset_cache_hits_total counter\n"
	out += fmt.Sprintf("laceset_cache_hits_total %d\n", atomic.LoadInt64(&c.cacheHits))

	out += "# HELP laceset_cache_misses_total Cache lookups that found nothing\n"
	out += "# TYPE laceset_cache_misses_total counter\n"
	out += fmt.Sprintf("laceset_cache_misses_total %d\n", atomic.LoadInt64(&c.cacheMisses))

	out += "# HELP laceset_cache_puts_total Cache insertions, including overwrites\n"
	out += "# TYPE laceset_cache_puts_total counter\n"
	out += fmt.Sprintf("laceset_cache_puts_total %d\n", atomic.LoadInt64(&c.cachePuts))

	out += "# HELP laceset_set_lookups_total Lookups on the unique set\n"
	out += "# TYPE laceset_set_lookups_total counter\n"
	out += fmt.Sprintf("laceset_set_lookups_total %d\n", atomic.LoadInt64(&c.setLookups))

	out += "# HELP laceset_set_created_total Entries created in the unique set\n"
	out += "# TYPE laceset_set_created_total counter\n"
	out += fmt.Sprintf("laceset_set_created_total %d\n", atomic.LoadInt64(&c.setCreated))

	out += "# HELP laceset_set_gc_cycles_total Completed GC cycles on the unique set\n"
	out += "# TYPE laceset_set_gc_cycles_total counter\n"
	out += fmt.Sprintf("laceset_set_gc_cycles_total %d\n", atomic.LoadInt64(&c.setGCCycles))

	out += "# HELP laceset_set_reclaims_total Entries reclaimed by GC\n"
	out += "# TYPE laceset_set_reclaims_total counter\n"
	out += fmt.Sprintf("laceset_set_reclaims_total %d\n", atomic.LoadInt64(&c.setReclaims))

	out += "# HELP laceset_scheduler_steals_total Successful steals across all workers\n"
	out += "# TYPE laceset_scheduler_steals_total counter\n"
	out += fmt.Sprintf("laceset_scheduler_steals_total %d\n", atomic.LoadInt64(&c.schedSteals))

	out += "# HELP laceset_scheduler_leaps_total Completed leapfrog syncs across all workers\n"
	out += "# TYPE laceset_scheduler_leaps_total counter\n"
	out += fmt.Sprintf("laceset_scheduler_leaps_total %d\n", atomic.LoadInt64(&c.schedLeaps))

	out += "# HELP laceset_scheduler_spawns_total Tasks spawned across all workers\n"
	out += "# TYPE laceset_scheduler_spawns_total counter\n"
	out += fmt.Sprintf("laceset_scheduler_spawns_total %d\n", atomic.LoadInt64(&c.schedSpawns))

	out += "# HELP laceset_scheduler_inlined_total Syncs that ran their task inline\n"
	out += "# TYPE laceset_scheduler_inlined_total counter\n"
	out += fmt.Sprintf("laceset_scheduler_inlined_total %d\n", atomic.LoadInt64(&c.schedInlined))

	out += "# HELP laceset_cache_hit_ratio Fraction of cache lookups that hit\n"
	out += "# TYPE laceset_cache_hit_ratio gauge\n"
	out += fmt.Sprintf("laceset_cache_hit_ratio %.4f\n", c.CacheHitRatio())

	return out
}
