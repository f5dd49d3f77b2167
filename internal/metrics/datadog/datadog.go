// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// Metrics are buffered in memory and submitted on a ticker (default once a
// minute) and once more on Close, so a long load produces a time series and
// a short create-tables run still reports its tail.
//
// Concurrency:
//   - pipeline goroutines call IncCounter/ObserveHistogram at any time
//   - Flush swaps in a fresh buffer under a mutex, then submits outside
//     the lock
//   - Close stops the flush loop and flushes once
package datadog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"dwh/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "dwh".
	JobName string

	// Tags are extra Datadog tags, e.g. "env:prod", "cluster:dwh".
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// Defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams; production code leaves them nil.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend calls.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu  sync.Mutex
	buf *buffer
}

// stepKey identifies the series of one statement outcome.
type stepKey struct {
	step, status string
}

func (k stepKey) tags(base []string) []string {
	return withTags(base, "step:"+k.step, "status:"+k.status)
}

type stepStats struct {
	runs      float64
	durations []float64
}

// buffer is everything recorded since the last flush.
type buffer struct {
	steps   map[stepKey]*stepStats
	records map[string]float64
	batches float64
}

func newBuffer() *buffer {
	return &buffer{
		steps:   make(map[stepKey]*stepStats),
		records: make(map[string]float64),
	}
}

func (b *buffer) step(step, status string) *stepStats {
	k := stepKey{step: step, status: status}
	st, ok := b.steps[k]
	if !ok {
		st = &stepStats{}
		b.steps[k] = st
	}
	return st
}

func (b *buffer) empty() bool {
	return len(b.steps) == 0 && len(b.records) == 0 && b.batches == 0
}

// sortedSteps orders step keys so payloads are stable.
func (b *buffer) sortedSteps() []stepKey {
	keys := make([]stepKey, 0, len(b.steps))
	for k := range b.steps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].step != keys[j].step {
			return keys[i].step < keys[j].step
		}
		return keys[i].status < keys[j].status
	})
	return keys
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client. The
// client reads DD_API_KEY (and DD_SITE) from the environment; a missing key
// is an init error rather than a silent stream of rejected submissions.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "dwh"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		if strings.TrimSpace(os.Getenv("DD_API_KEY")) == "" {
			return nil, wrapInitErr(errors.New("DD_API_KEY is not set"))
		}
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		buf:        newBuffer(),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Call it once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepTotal:
		b.buf.step(labels["step"], labels["status"]).runs += delta
	case metrics.RecordsTotal:
		if kind := labels["kind"]; kind != "" {
			b.buf.records[kind] += delta
		}
	case metrics.BatchesTotal:
		b.buf.batches += delta
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDuration {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.buf.step(labels["step"], labels["status"])
	st.durations = append(st.durations, value)
}

// take detaches the current buffer and starts a new one.
func (b *Backend) take() *buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.buf
	b.buf = newBuffer()
	return buf
}

// Flush submits buffered metrics and resets the buffers, even when the
// submission fails. Returns nil when there is nothing to submit.
func (b *Backend) Flush() error {
	buf := b.take()
	if buf.empty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(buf, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog: submit %d series: %w", len(payload.Series), err)
	}
	return nil
}

// buildSeries renders one buffer at a single timestamp.
func (b *Backend) buildSeries(buf *buffer, ts int64) []datadogV2.MetricSeries {
	var series []datadogV2.MetricSeries
	for _, k := range buf.sortedSteps() {
		st := buf.steps[k]
		tags := k.tags(b.baseTags)
		if st.runs > 0 {
			series = append(series, newSeries(datadogV2.METRICINTAKETYPE_COUNT, "dwh.step.total", st.runs, tags, ts))
		}
		addPercentiles(&series, "dwh.step.duration_seconds", st.durations, tags, ts)
	}

	kinds := make([]string, 0, len(buf.records))
	for kind := range buf.records {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		series = append(series, newSeries(datadogV2.METRICINTAKETYPE_COUNT, "dwh.records.total", buf.records[kind], withTags(b.baseTags, "kind:"+kind), ts))
	}

	if buf.batches > 0 {
		series = append(series, newSeries(datadogV2.METRICINTAKETYPE_COUNT, "dwh.batches.total", buf.batches, b.baseTags, ts))
	}
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges. samples is
// not modified.
func addPercentiles(series *[]datadogV2.MetricSeries, prefix string, samples []float64, tags []string, ts int64) {
	if len(samples) == 0 {
		return
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	gauge := func(suffix string, v float64) datadogV2.MetricSeries {
		return newSeries(datadogV2.METRICINTAKETYPE_GAUGE, prefix+suffix, v, tags, ts)
	}
	*series = append(*series,
		gauge(".p50", percentileNearestRank(sorted, 0.50)),
		gauge(".p90", percentileNearestRank(sorted, 0.90)),
		gauge(".p95", percentileNearestRank(sorted, 0.95)),
		gauge(".p99", percentileNearestRank(sorted, 0.99)),
		gauge(".max", sorted[len(sorted)-1]),
		gauge(".samples", float64(len(sorted))),
	)
}

func newSeries(typ datadogV2.MetricIntakeType, metric string, value float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,cluster:dwh".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
