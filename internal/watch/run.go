package watch

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Func is one run of the watched job. changed is empty for the first run.
// ctx is canceled when the run is superseded in restart mode or when the
// watch ends.
type Func func(ctx context.Context, changed []string) error

// Option configures Run.
type Option func(*options)

type options struct {
	debounce time.Duration
	ignore   []string
	restart  bool
	logger   zerolog.Logger
	ready    func(*Watcher)
}

// WithDebounce sets the quiet period before a re-run.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithIgnore adds directory names to DefaultIgnore.
func WithIgnore(names ...string) Option {
	return func(o *options) { o.ignore = append(o.ignore, names...) }
}

// WithRestart makes a change cancel the run in progress and start a new
// one. Without it, runs finish undisturbed and files written while a run is
// in progress, typically the run's own output, do not trigger another run.
func WithRestart(restart bool) Option {
	return func(o *options) { o.restart = restart }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// withReady is called once the watcher is installed, before the first run.
func withReady(fn func(*Watcher)) Option {
	return func(o *options) { o.ready = fn }
}

// Run calls fn once, then again after every debounced batch of changes
// under root, until ctx ends. Runs never overlap. Run returns nil when ctx
// ends and an error only if the watcher cannot be set up.
func Run(ctx context.Context, root string, fn Func, opts ...Option) error {
	o := options{debounce: DefaultDebounce, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	w, err := NewWatcher(root, o.ignore, o.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	deb := NewDebouncer(o.debounce)
	defer deb.Stop()

	o.logger.Debug().Str("root", w.Root()).Int("dirs", w.WatchedCount()).Dur("debounce", o.debounce).Msg("watching")
	if o.ready != nil {
		o.ready(w)
	}

	var (
		changed  []string
		runStart time.Time
		runEnd   time.Time
	)
	for {
		runStart, runEnd = time.Now(), time.Time{}
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func(changed []string) {
			done <- fn(runCtx, changed)
		}(changed)
		changed = nil

		running := true
		for running || changed == nil {
			select {
			case <-ctx.Done():
				cancel()
				if running {
					<-done
				}
				return nil

			case err := <-done:
				running = false
				runEnd = time.Now()
				if err != nil {
					o.logger.Debug().Err(err).Msg("run finished with error")
				}

			case ev, ok := <-w.Events():
				if !ok {
					cancel()
					return nil
				}
				if !o.restart && writtenDuringRun(ev.Path, running, runStart, runEnd) {
					o.logger.Trace().Str("path", ev.Path).Stringer("op", ev.Op).Msg("change written during run")
					continue
				}
				o.logger.Trace().Str("path", ev.Path).Stringer("op", ev.Op).Msg("change")
				deb.Add(ev.Path)

			case batch := <-deb.C():
				changed = append(changed, batch...)
				o.logger.Info().Strs("changed", batch).Msg("change detected")
				if running && o.restart {
					cancel()
					<-done
					running = false
				}

			case err, ok := <-w.Errors():
				if ok {
					o.logger.Warn().Err(err).Msg("watcher error")
				}
			}
		}
		cancel()
	}
}

// mtimeSlack covers file system clocks that lag time.Now slightly.
const mtimeSlack = 50 * time.Millisecond

// writtenDuringRun reports whether a change to path belongs to the last run:
// it arrived while the run was in progress, or it arrived late but the file
// was last modified between the run's start and end.
func writtenDuringRun(path string, running bool, start, end time.Time) bool {
	if running {
		return true
	}
	if end.IsZero() {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	mtime := info.ModTime()
	return !mtime.Before(start.Add(-mtimeSlack)) && !mtime.After(end)
}
