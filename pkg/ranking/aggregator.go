package ranking

import (
	"context"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/utils/notify"
)

// Racer is anything the aggregator can rank.
// Both authoritative trackers and replica mirrors implement it.
type Racer interface {
	ID() model.RacerID
	Snapshot() model.RacerSnapshot
}

// Entry is one element of the sorted view.
// Snapshot is the state the racer had when the view was built.
type Entry struct {
	Racer    Racer
	Snapshot model.RacerSnapshot
}

type RankingsChanged struct{}

var (
	topicProgress = attribute.String("topic", "progress")
	topicRankings = attribute.String("topic", "rankings")
)

// Aggregator holds the roster of active racers and a lazily rebuilt
// sorted view of it.
type Aggregator struct {
	mu     sync.Mutex
	roster []Racer
	dirty  bool
	cache  []Entry

	progressHub *notify.Hub[model.RacerID]
	rankingsHub *notify.Hub[RankingsChanged]
	l           *log.Logger
	meters      metric.MeterProvider

	rebuilds  metric.Int64Counter
	cacheHits metric.Int64Counter
}

type Option func(*Aggregator)

func WithLogger(l *log.Logger) Option {
	return func(a *Aggregator) {
		a.l = l
	}
}

// WithMeterProvider sets the provider used for the aggregator metrics.
// Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *Aggregator) {
		a.meters = mp
	}
}

func NewAggregator(opts ...Option) *Aggregator {
	ret := &Aggregator{
		progressHub: notify.NewHub[model.RacerID](),
		rankingsHub: notify.NewHub[RankingsChanged](),
		l:           log.Default().Named("ranking"),
		meters:      otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.setupMetrics()
	return ret
}

func (a *Aggregator) setupMetrics() {
	meter := a.meters.Meter("rpt.ranking")
	var err error
	if a.rebuilds, err = meter.Int64Counter("rpt.ranking.rebuilds",
		metric.WithDescription("Number of sorted view rebuilds"),
		metric.WithUnit("{count}")); err != nil {
		a.l.Error("failed to register metric", log.ErrorField(err))
	}
	if a.cacheHits, err = meter.Int64Counter("rpt.ranking.cache_hits",
		metric.WithDescription("Number of queries served from the sorted view"),
		metric.WithUnit("{count}")); err != nil {
		a.l.Error("failed to register metric", log.ErrorField(err))
	}
	if _, err = meter.Int64ObservableGauge("rpt.ranking.roster",
		metric.WithDescription("Number of registered racers"),
		metric.WithUnit("{count}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(a.Len()))
			return nil
		})); err != nil {
		a.l.Error("failed to register metric", log.ErrorField(err))
	}
	if _, err = meter.Int64ObservableGauge("rpt.ranking.subscribers",
		metric.WithDescription("Number of notification subscribers"),
		metric.WithUnit("{count}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(a.progressHub.Subscribers()), metric.WithAttributes(topicProgress))
			o.Observe(int64(a.rankingsHub.Subscribers()), metric.WithAttributes(topicRankings))
			return nil
		})); err != nil {
		a.l.Error("failed to register metric", log.ErrorField(err))
	}
	if _, err = meter.Int64ObservableCounter("rpt.ranking.dropped_notifications",
		metric.WithDescription("Number of notifications dropped for slow subscribers"),
		metric.WithUnit("{count}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(a.progressHub.Dropped()), metric.WithAttributes(topicProgress))
			o.Observe(int64(a.rankingsHub.Dropped()), metric.WithAttributes(topicRankings))
			return nil
		})); err != nil {
		a.l.Error("failed to register metric", log.ErrorField(err))
	}
}

// Register adds r to the roster. Registering a known racer is a no-op.
func (a *Aggregator) Register(r Racer) {
	a.mu.Lock()
	if a.indexOf(r.ID()) >= 0 {
		a.mu.Unlock()
		return
	}
	a.roster = append(a.roster, r)
	a.dirty = true
	a.mu.Unlock()

	a.l.Debug("racer registered", log.String("racer", string(r.ID())))
	a.rankingsHub.Publish(RankingsChanged{})
}

// Unregister removes the racer from the roster and from the sorted view.
// Unregistering an unknown racer is a no-op.
func (a *Aggregator) Unregister(id model.RacerID) {
	a.mu.Lock()
	idx := a.indexOf(id)
	if idx < 0 {
		a.mu.Unlock()
		return
	}
	a.roster = slices.Delete(a.roster, idx, idx+1)
	a.cache = slices.DeleteFunc(a.cache, func(e Entry) bool {
		return e.Racer.ID() == id
	})
	a.dirty = true
	a.mu.Unlock()

	a.l.Debug("racer unregistered", log.String("racer", string(id)))
	a.rankingsHub.Publish(RankingsChanged{})
}

// ProgressChanged marks the sorted view outdated and forwards the signal
// to progress and rankings subscribers.
func (a *Aggregator) ProgressChanged(id model.RacerID) {
	a.mu.Lock()
	known := a.indexOf(id) >= 0
	if known {
		a.dirty = true
	}
	a.mu.Unlock()

	if !known {
		return
	}
	a.progressHub.Publish(id)
	a.rankingsHub.Publish(RankingsChanged{})
}

// Sorted returns the roster ordered by laps completed and progress, both
// descending. Racers with equal keys keep their registration order.
// The returned slice is a copy.
func (a *Aggregator) Sorted() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureSorted()
	return slices.Clone(a.cache)
}

// PositionOf returns the 1-based rank of the racer or 0 if unknown.
func (a *Aggregator) PositionOf(id model.RacerID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureSorted()
	for i := range a.cache {
		if a.cache[i].Racer.ID() == id {
			return i + 1
		}
	}
	return 0
}

// Racer returns the registered racer with the given id
func (a *Aggregator) Racer(id model.RacerID) (Racer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx := a.indexOf(id); idx >= 0 {
		return a.roster[idx], true
	}
	return nil, false
}

func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.roster)
}

// SubscribeProgress delivers the id of each racer whose progress changed
func (a *Aggregator) SubscribeProgress() (ch <-chan model.RacerID, cancel func()) {
	return a.progressHub.Subscribe(notify.DefaultBuffer)
}

func (a *Aggregator) SubscribeRankings() (ch <-chan RankingsChanged, cancel func()) {
	return a.rankingsHub.Subscribe(notify.DefaultBuffer)
}

// Close ends all subscriptions
func (a *Aggregator) Close() {
	a.progressHub.Close()
	a.rankingsHub.Close()
}

// HasFinished reports if the racer completed at least totalLaps laps
func HasFinished(r Racer, totalLaps int) bool {
	return r.Snapshot().LapsCompleted >= totalLaps
}

// must be called with mu held
func (a *Aggregator) ensureSorted() {
	if !a.dirty && a.cache != nil {
		a.cacheHits.Add(context.Background(), 1)
		return
	}
	entries := make([]Entry, len(a.roster))
	for i, r := range a.roster {
		entries[i] = Entry{Racer: r, Snapshot: r.Snapshot()}
	}
	slices.SortStableFunc(entries, compareEntries)
	a.cache = entries
	a.dirty = false
	a.rebuilds.Add(context.Background(), 1)
}

func compareEntries(x, y Entry) int {
	switch {
	case x.Snapshot.LapsCompleted != y.Snapshot.LapsCompleted:
		return y.Snapshot.LapsCompleted - x.Snapshot.LapsCompleted
	case x.Snapshot.Progress > y.Snapshot.Progress:
		return -1
	case x.Snapshot.Progress < y.Snapshot.Progress:
		return 1
	default:
		return 0
	}
}

// must be called with mu held
func (a *Aggregator) indexOf(id model.RacerID) int {
	return slices.IndexFunc(a.roster, func(r Racer) bool { return r.ID() == id })
}
