package stages

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/creastat/collate/core"
	"github.com/creastat/collate/protocol"
	"github.com/creastat/infra/telemetry"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// FileSourceConfig holds file source configuration
type FileSourceConfig struct {
	// Paths are read concurrently, each one in order
	Paths []string
	// Reader is used when Paths is empty, e.g. os.Stdin
	Reader io.Reader
	// Host fills the host field of records that lack one (default os.Hostname)
	Host string
	// Follow keeps files open and waits for appended lines until the context ends
	Follow bool
	Logger telemetry.Logger
}

// FileSource reads newline-delimited input and produces records.
// JSON object lines keep their fields; other lines become {"message": line}.
// Records without path or host get them from the source.
type FileSource struct {
	config  FileSourceConfig
	logger  telemetry.Logger
	records atomic.Int64
}

// NewFileSource creates a new file source
func NewFileSource(config FileSourceConfig) (*FileSource, error) {
	if len(config.Paths) == 0 && config.Reader == nil {
		return nil, fmt.Errorf("file source needs paths or a reader")
	}
	if config.Host == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		config.Host = host
	}
	return &FileSource{
		config: config,
		logger: config.Logger.WithModule("file_source"),
	}, nil
}

// Run reads every input into out and returns the number of records produced.
// Without Follow it returns once all inputs hit EOF; with Follow it returns
// when ctx is cancelled. Cancellation by the caller is not an error.
func (s *FileSource) Run(ctx context.Context, out chan<- core.Event) (int, error) {
	s.records.Store(0)

	var err error
	if len(s.config.Paths) == 0 {
		err = s.readLines(ctx, s.config.Reader, "", out, nil)
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for _, path := range s.config.Paths {
			g.Go(func() error {
				return s.readFile(gctx, path, out)
			})
		}
		err = g.Wait()
	}

	records := int(s.records.Load())
	if err != nil && ctx.Err() == nil {
		return records, err
	}
	s.logger.Info("file source finished", telemetry.Int("records", records))
	return records, nil
}

func (s *FileSource) readFile(ctx context.Context, path string, out chan<- core.Event) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	s.logger.Debug("reading file", telemetry.String("path", path), telemetry.Bool("follow", s.config.Follow))
	if !s.config.Follow {
		return s.readLines(ctx, f, path, out, nil)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory so writes through renamed or recreated files are seen
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	return s.readLines(ctx, f, path, out, func(ctx context.Context) error {
		return s.waitForChange(ctx, watcher, absPath)
	})
}

// waitForChange blocks until path is written or ctx ends
func (s *FileSource) waitForChange(ctx context.Context, watcher *fsnotify.Watcher, path string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return io.EOF
			}
			if event.Name != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return io.EOF
			}
			s.logger.Warn("watcher error", telemetry.String("path", path), telemetry.Err(err))
		}
	}
}

// readLines emits one record per line of r. At EOF it returns, or calls wait
// and keeps reading when wait is set. A trailing partial line is only emitted
// once no more input can follow.
func (s *FileSource) readLines(ctx context.Context, r io.Reader, path string, out chan<- core.Event, wait func(context.Context) error) error {
	reader := bufio.NewReader(r)
	var partial []byte

	for {
		chunk, err := reader.ReadBytes('\n')
		partial = append(partial, chunk...)

		switch {
		case err == nil:
			if emitErr := s.emit(ctx, partial, path, out); emitErr != nil {
				return emitErr
			}
			partial = partial[:0]

		case errors.Is(err, io.EOF):
			if wait == nil {
				if len(partial) > 0 {
					return s.emit(ctx, partial, path, out)
				}
				return nil
			}
			if waitErr := wait(ctx); waitErr != nil {
				if errors.Is(waitErr, io.EOF) && len(partial) > 0 {
					return s.emit(ctx, partial, path, out)
				}
				return waitErr
			}
			if f, ok := r.(*os.File); ok {
				s.rewindIfTruncated(f, reader, &partial)
			}

		default:
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
}

// rewindIfTruncated starts over when the file shrank below the read offset
func (s *FileSource) rewindIfTruncated(f *os.File, reader *bufio.Reader, partial *[]byte) {
	info, err := f.Stat()
	if err != nil {
		return
	}
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil || info.Size() >= offset {
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return
	}
	s.logger.Info("file truncated, reading from start", telemetry.String("path", f.Name()))
	reader.Reset(f)
	*partial = (*partial)[:0]
}

func (s *FileSource) emit(ctx context.Context, line []byte, path string, out chan<- core.Event) error {
	record, err := protocol.DecodeLine(line)
	if errors.Is(err, protocol.ErrEmptyLine) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, ok := record.Get("path"); !ok && path != "" {
		record.Set("path", path)
	}
	if _, ok := record.Get("host"); !ok {
		record.Set("host", s.config.Host)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- record:
		s.records.Add(1)
		return nil
	}
}
