// Package loader fills a staging table from JSON objects in object storage,
// for warehouses whose dialect has no native COPY from S3.
//
// It follows the warehouse's bulk-load semantics: every object under the
// source prefix is read, fields map to columns by JSONPaths or by name,
// timestamps honour TIMEFORMAT, and bad records are skipped until more than
// MaxErrors of them have been seen.
//
// Pipeline shape:
//
//	objects -> [reader x Workers] -> rows chan -> [writer] -> RowCopier
//
// Rows are pooled transformer.Row values; the writer frees them after each
// batch is copied.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	jsonparser "dwh/internal/parser/json"
	"dwh/internal/metrics"
	"dwh/internal/source"
	"dwh/internal/storage"
	"dwh/internal/transformer"
)

const (
	defaultBatchSize     = 5000
	defaultWorkers       = 4
	defaultChannelBuffer = 256
)

var (
	// ErrNoObjects is returned when the source prefix matches nothing.
	ErrNoObjects = errors.New("loader: no objects under source")

	// ErrTooManyRejects is returned once more than MaxErrors records have
	// been rejected.
	ErrTooManyRejects = errors.New("loader: too many rejected records")
)

// Objects lists and opens source objects. *source.Mux satisfies it.
type Objects interface {
	List(ctx context.Context, uri string) ([]source.Object, error)
	Open(ctx context.Context, loc source.Location) (io.ReadCloser, error)
	ReadAll(ctx context.Context, uri string) ([]byte, error)
}

// Loader runs load directives through a RowCopier.
type Loader struct {
	Objects Objects
	Copier  storage.RowCopier
	Logger  *slog.Logger

	BatchSize     int // rows per CopyRows call; default 5000
	Workers       int // objects read concurrently; default 4
	ChannelBuffer int // default 256

	// Job labels metrics; default "dwh".
	Job string
}

// Result summarises one load.
type Result struct {
	Objects  int
	Records  int64 // records seen, including rejected ones
	Loaded   int64
	Rejected int64
}

// BulkLoad runs one directive. It lets a Loader back pipeline.BulkLoader.
func (l *Loader) BulkLoad(ctx context.Context, d storage.LoadDirective) error {
	_, err := l.Load(ctx, d)
	return err
}

// Load copies every record under d.Source into d.Table.
//
// Edge cases:
//   - Rows already copied stay in the table when the load fails; callers
//     rerun from drop/create.
//   - MaxErrors 0 fails on the first bad record.
func (l *Loader) Load(ctx context.Context, d storage.LoadDirective) (Result, error) {
	var res Result
	if l.Objects == nil || l.Copier == nil {
		return res, fmt.Errorf("loader: Objects and Copier are required")
	}
	logger := l.logger().With("table", d.Table, "source", d.Source)

	paths, err := l.jsonPaths(ctx, d)
	if err != nil {
		return res, err
	}
	m, err := newMapper(d, paths)
	if err != nil {
		return res, err
	}
	tc, err := storage.BindTable(l.Copier, d.Table)
	if err != nil {
		return res, err
	}

	objs, err := l.Objects.List(ctx, d.Source)
	if err != nil {
		return res, fmt.Errorf("loader: list %s: %w", d.Source, err)
	}
	if len(objs) == 0 {
		return res, fmt.Errorf("%w: %s", ErrNoObjects, d.Source)
	}
	res.Objects = len(objs)
	metrics.RecordRow(l.job(), metrics.KindObjects, int64(len(objs)))
	logger.Debug("load started", "objects", len(objs))

	st := &loadState{maxErrors: d.MaxErrors, logger: logger}
	rows := make(chan *transformer.Row, l.channelBuffer())
	columns := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		columns[i] = c.Name
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(rows)
		rg, rctx := errgroup.WithContext(gctx)
		rg.SetLimit(l.workers())
		for _, obj := range objs {
			rg.Go(func() error {
				return l.readObject(rctx, obj, m, len(columns), rows, st)
			})
		}
		return rg.Wait()
	})

	g.Go(func() error {
		return l.write(gctx, tc, columns, rows, st)
	})

	err = g.Wait()
	res.Records = st.records.Load()
	res.Loaded = st.loaded.Load()
	res.Rejected = st.rejected.Load()

	metrics.RecordRow(l.job(), metrics.KindParsed, res.Records-res.Rejected)
	metrics.RecordRow(l.job(), metrics.KindRejected, res.Rejected)
	metrics.RecordRow(l.job(), metrics.KindLoaded, res.Loaded)

	if err != nil {
		return res, fmt.Errorf("loader: load %s: %w", d.Table, err)
	}
	if res.Rejected > 0 {
		logger.Warn("records rejected", "rejected", res.Rejected, "max_errors", d.MaxErrors)
	}
	logger.Info("load finished", "objects", res.Objects, "records", res.Records, "rows", res.Loaded)
	return res, nil
}

func (l *Loader) jsonPaths(ctx context.Context, d storage.LoadDirective) ([]Path, error) {
	switch strings.ToLower(strings.TrimSpace(d.Format)) {
	case "", storage.FormatAuto, storage.FormatAutoIgnoreCase:
		return nil, nil
	}
	doc, err := l.Objects.ReadAll(ctx, d.Format)
	if err != nil {
		return nil, fmt.Errorf("loader: read jsonpaths %s: %w", d.Format, err)
	}
	paths, err := ParseJSONPaths(doc)
	if err != nil {
		return nil, fmt.Errorf("loader: jsonpaths %s: %w", d.Format, err)
	}
	return paths, nil
}

func (l *Loader) readObject(
	ctx context.Context,
	obj source.Object,
	m *mapper,
	width int,
	rows chan<- *transformer.Row,
	st *loadState,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rc, err := l.Objects.Open(ctx, obj.Location)
	if err != nil {
		return fmt.Errorf("open %s: %w", obj.Location, err)
	}
	defer rc.Close()

	recs := make(chan jsonparser.Record, l.channelBuffer())
	errc := make(chan error, 1)
	go func() {
		defer close(recs)
		errc <- jsonparser.StreamRecords(ctx, rc, recs, func(index int, err error) {
			st.records.Add(1)
			st.reject(obj.Location, index, err)
		})
	}()

	for rec := range recs {
		st.records.Add(1)
		if st.exceeded() {
			continue
		}
		r := transformer.GetRow(width)
		r.Line = rec.Index
		if err := m.fill(rec.Fields, r.V); err != nil {
			r.Free()
			st.reject(obj.Location, rec.Index, err)
			continue
		}
		select {
		case rows <- r:
		case <-ctx.Done():
			r.Drop()
		}
	}

	if err := <-errc; err != nil {
		return fmt.Errorf("read %s: %w", obj.Location, err)
	}
	if st.exceeded() {
		return fmt.Errorf("%w: %d rejected, max %d", ErrTooManyRejects, st.rejected.Load(), st.maxErrors)
	}
	return ctx.Err()
}

func (l *Loader) write(
	ctx context.Context,
	tc *storage.TableCopier,
	columns []string,
	rows <-chan *transformer.Row,
	st *loadState,
) error {
	size := l.batchSize()
	batch := make([][]any, 0, size)
	owned := make([]*transformer.Row, 0, size)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := tc.CopyFrom(ctx, columns, batch)
		for _, r := range owned {
			r.Free()
		}
		batch, owned = batch[:0], owned[:0]
		if err != nil {
			return fmt.Errorf("copy into %s: %w", tc.Table(), err)
		}
		st.loaded.Add(n)
		metrics.RecordBatches(l.job(), 1)
		return nil
	}

	// Returning early cancels ctx, which stops the readers. Rows still
	// buffered in the channel are left to the garbage collector.
	for r := range rows {
		if err := ctx.Err(); err != nil {
			r.Drop()
			return err
		}
		batch = append(batch, r.V)
		owned = append(owned, r)
		if len(batch) >= size {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return flush()
}

// loadState is shared by the readers and the writer of one load.
type loadState struct {
	maxErrors int
	logger    *slog.Logger

	records  atomic.Int64
	rejected atomic.Int64
	loaded   atomic.Int64
}

func (s *loadState) reject(loc source.Location, index int, err error) {
	s.rejected.Add(1)
	s.logger.Debug("record rejected", "object", loc.String(), "record", index, "err", err)
}

func (s *loadState) exceeded() bool {
	return s.rejected.Load() > int64(max(s.maxErrors, 0))
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (l *Loader) job() string {
	if l.Job != "" {
		return l.Job
	}
	return "dwh"
}

func (l *Loader) batchSize() int {
	if l.BatchSize > 0 {
		return l.BatchSize
	}
	return defaultBatchSize
}

func (l *Loader) workers() int {
	if l.Workers > 0 {
		return l.Workers
	}
	return defaultWorkers
}

func (l *Loader) channelBuffer() int {
	if l.ChannelBuffer > 0 {
		return l.ChannelBuffer
	}
	return defaultChannelBuffer
}
