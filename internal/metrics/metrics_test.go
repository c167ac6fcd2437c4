package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlabs struct {
	counts map[string]int
	free   int
}

func (f fakeSlabs) SlabStateCounts() map[string]int { return f.counts }
func (f fakeSlabs) FreeBlocks() int                 { return f.free }

type fakeJournal struct {
	head, tail uint64
}

func (f fakeJournal) Head() uint64         { return f.head }
func (f fakeJournal) TailSequence() uint64 { return f.tail }

type fakeCache struct {
	hits, misses uint64
	dirty        int
}

func (f fakeCache) PageCacheStats() (uint64, uint64, int) { return f.hits, f.misses, f.dirty }

func drainMetrics(c *Collector) []prometheus.Metric {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	var out []prometheus.Metric
	for m := range ch {
		out = append(out, m)
	}
	return out
}

func TestCollectorGathersAllSources(t *testing.T) {
	c := NewCollector(
		fakeSlabs{counts: map[string]int{"CLEAN": 3, "DRAINING": 1}, free: 100},
		fakeJournal{head: 5, tail: 12},
		fakeCache{hits: 50, misses: 7, dirty: 2},
		func() bool { return false },
	)

	metrics := drainMetrics(c)
	// 2 slab-state series + free blocks + head + tail + hits + misses + dirty + read_only
	assert.Equal(t, 9, len(metrics))

	descCh := make(chan *prometheus.Desc, 16)
	c.Describe(descCh)
	close(descCh)
	var descs []*prometheus.Desc
	for d := range descCh {
		descs = append(descs, d)
	}
	require.Len(t, descs, 8)
}

func TestCollectorSkipsNilSources(t *testing.T) {
	c := NewCollector(nil, nil, nil, nil)
	metrics := drainMetrics(c)
	assert.Empty(t, metrics)
}
