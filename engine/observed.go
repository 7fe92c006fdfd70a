package engine

import (
	"sync"
	"time"

	"dhtcore/nodeid"
)

// ObservedRecord is one entry of the observed-identifier log (passive
// mode only): first-seen timestamp, count of observed probes, and the
// set of source addresses that asked about it.
type ObservedRecord struct {
	FirstSeen time.Time
	Count     int
	Sources   map[string]struct{}
}

// observedLog is append-only for the lifetime of the observer: no entry
// is ever removed while it runs.
type observedLog struct {
	mu      sync.Mutex
	records map[nodeid.ID]*ObservedRecord
}

func newObservedLog() *observedLog {
	return &observedLog{records: make(map[nodeid.ID]*ObservedRecord)}
}

// record notes that infoHash was probed from source.
func (o *observedLog) record(infoHash nodeid.ID, source string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.records[infoHash]
	if !ok {
		rec = &ObservedRecord{FirstSeen: time.Now(), Sources: make(map[string]struct{})}
		o.records[infoHash] = rec
	}
	rec.Count++
	rec.Sources[source] = struct{}{}
}

// Snapshot returns a copy of the observed log, keyed by identifier.
func (o *observedLog) Snapshot() map[nodeid.ID]ObservedRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[nodeid.ID]ObservedRecord, len(o.records))
	for id, rec := range o.records {
		sources := make(map[string]struct{}, len(rec.Sources))
		for s := range rec.Sources {
			sources[s] = struct{}{}
		}
		out[id] = ObservedRecord{FirstSeen: rec.FirstSeen, Count: rec.Count, Sources: sources}
	}
	return out
}
