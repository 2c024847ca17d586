package dataset

import (
	"context"
	"io"
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// LoaderOptions configures batching.
type LoaderOptions struct {
	BatchSize  int
	Shuffle    bool
	DropLast   bool
	NumWorkers int
	// Prefetch is the number of batches loaded ahead of the consumer.
	Prefetch int
	Seed     int64
}

// Loader groups source samples into batches. Samples are loaded by a
// background goroutine; collation onto the backend happens on the consumer
// goroutine, so the backend is never touched concurrently.
type Loader struct {
	src     Source
	layout  Layout
	opts    LoaderOptions
	backend tensor.Backend
	rng     *rand.Rand
	logger  *zap.Logger
}

// NewLoader creates a loader over src.
func NewLoader(src Source, layout Layout, opts LoaderOptions, backend tensor.Backend, logger *zap.Logger) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("dataset: invalid batch size %d", opts.BatchSize)
	}
	if src.Len() == 0 {
		return nil, errors.New("dataset: empty source")
	}
	if opts.DropLast && src.Len() < opts.BatchSize {
		return nil, errors.Errorf("dataset: %d samples cannot fill a batch of %d", src.Len(), opts.BatchSize)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		src:     src,
		layout:  layout,
		opts:    opts,
		backend: backend,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		logger:  logger,
	}, nil
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.src.Len() / l.opts.BatchSize
	if !l.opts.DropLast && l.src.Len()%l.opts.BatchSize != 0 {
		n++
	}
	return n
}

type loaded struct {
	samples []*Sample
	err     error
}

// Epoch is one pass over the source.
type Epoch struct {
	l      *Loader
	ch     chan loaded
	cancel context.CancelFunc
}

// Epoch starts loading one pass over the source in a fresh order.
func (l *Loader) Epoch(ctx context.Context) *Epoch {
	order := make([]int, l.src.Len())
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	seeds := make([]int64, len(order))
	for i := range seeds {
		seeds[i] = l.rng.Int63()
	}

	ctx, cancel := context.WithCancel(ctx)
	e := &Epoch{l: l, ch: make(chan loaded, l.opts.Prefetch), cancel: cancel}
	go func() {
		defer close(e.ch)
		for b := 0; b < l.Len(); b++ {
			start := b * l.opts.BatchSize
			end := min(start+l.opts.BatchSize, len(order))
			samples, err := l.load(ctx, order[start:end], seeds[start:end])
			select {
			case e.ch <- loaded{samples: samples, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return e
}

func (l *Loader) load(ctx context.Context, indices []int, seeds []int64) ([]*Sample, error) {
	samples := make([]*Sample, len(indices))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.NumWorkers)
	for i, idx := range indices {
		i, idx := i, idx
		g.Go(func() error {
			s, err := l.src.Sample(ctx, idx, rand.New(rand.NewSource(seeds[i])))
			if err != nil {
				return errors.Wrapf(err, "sample %d", idx)
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

// Next returns the next batch, or io.EOF after the last one.
func (e *Epoch) Next() (*Batch, error) {
	item, ok := <-e.ch
	if !ok {
		return nil, io.EOF
	}
	if item.err != nil {
		return nil, item.err
	}
	return Collate(item.samples, e.l.layout, e.l.backend)
}

// Close stops background loading.
func (e *Epoch) Close() {
	e.cancel()
	for range e.ch {
	}
}

// Cycle yields batches forever, starting a new epoch whenever one ends.
type Cycle struct {
	l   *Loader
	ctx context.Context
	cur *Epoch
}

// Cycle returns an endless iterator over the loader.
func (l *Loader) Cycle(ctx context.Context) *Cycle {
	return &Cycle{l: l, ctx: ctx}
}

// Next returns the next batch, restarting the source at the end of an
// epoch.
func (c *Cycle) Next() (*Batch, error) {
	for i := 0; i < 2; i++ {
		if c.cur == nil {
			c.cur = c.l.Epoch(c.ctx)
		}
		b, err := c.cur.Next()
		if !errors.Is(err, io.EOF) {
			return b, err
		}
		c.cur.Close()
		c.cur = nil
		c.l.logger.Debug("loader cycled to a new epoch")
	}
	return nil, errors.New("dataset: source yielded no batch")
}

// Close stops background loading of the current epoch.
func (c *Cycle) Close() {
	if c.cur != nil {
		c.cur.Close()
		c.cur = nil
	}
}
