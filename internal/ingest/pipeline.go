// Package ingest stages streamed object responses to local files and decodes
// them into tables, removing the staging file on every exit path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/daaas-storage/internal/table"
)

// Options configures a Pipeline.
type Options struct {
	// StagingDir receives staging files. Empty means os.TempDir().
	StagingDir string
	Logger     *zerolog.Logger
	Metrics    *Metrics
}

// Pipeline stages and decodes streamed responses. It holds no per-call
// state, so one Pipeline may serve concurrent ingestions.
type Pipeline struct {
	stagingDir string
	logger     zerolog.Logger
	metrics    *Metrics
	createTemp func(dir, pattern string) (*os.File, error)
	removeFile func(string) error
}

func New(opts Options) *Pipeline {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = DefaultMetrics()
	}
	return &Pipeline{
		stagingDir: opts.StagingDir,
		logger:     logger.With().Str("component", "ingest").Logger(),
		metrics:    metrics,
		createTemp: os.CreateTemp,
		removeFile: os.Remove,
	}
}

// Ingest consumes stream into a fresh staging file, decodes it with dec and
// returns the table. Ingest takes ownership of stream and closes it. The
// staging file is removed before Ingest returns, whether decoding
// succeeded, failed, was skipped because the stream broke, or ctx was
// cancelled mid-stream. A failed removal is logged, never returned.
func (p *Pipeline) Ingest(ctx context.Context, stream Stream, dec table.Decoder) (tbl table.Table, err error) {
	id := uuid.NewString()
	source := sourceOf(stream)
	logger := p.logger.With().
		Str("ingestion", id).
		Str("decoder", dec.Name()).
		Str("source", source).
		Logger()

	defer func() {
		if cerr := stream.Close(); cerr != nil {
			logger.Debug().Err(cerr).Msg("closing source stream")
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		p.metrics.Ingestions.WithLabelValues(dec.Name(), result).Inc()
	}()

	staged, err := p.createTemp(p.stagingDir, "ingest-"+id+"-*.part")
	if err != nil {
		return nil, pkgerrors.WithStack(&Error{Kind: ErrStagingIO, Source: source, Err: err})
	}
	path := staged.Name()
	defer p.cleanup(logger, path)

	written, err := p.accumulate(ctx, stream, staged, source)
	closeErr := staged.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, pkgerrors.WithStack(&Error{Kind: ErrStagingIO, Source: source, Staging: path, Err: closeErr})
	}
	logger.Debug().Str("staged", humanize.Bytes(uint64(written))).Str("path", path).Msg("staging file sealed")

	tbl, err = dec.Decode(path)
	if err != nil {
		kind := ErrDecodeFailed
		// the decoder could not open or read the sealed file
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			kind = ErrStagingIO
		}
		return nil, pkgerrors.WithStack(&Error{Kind: kind, Source: source, Staging: path, Err: err})
	}

	rows, cols := tbl.Shape()
	logger.Info().Int("nrow", rows).Int("ncol", cols).Msg("Created table with dimensions")
	return tbl, nil
}

// accumulate appends every payload to w in arrival order until the stream
// signals its end.
func (p *Pipeline) accumulate(ctx context.Context, stream Stream, w io.Writer, source string) (int64, error) {
	var written int64
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return written, fmt.Errorf("ingestion of %s abandoned: %w", source, ctxErr)
			}
			if errors.Is(err, ErrStreamTruncated) {
				return written, err
			}
			return written, pkgerrors.WithStack(&Error{Kind: ErrStreamTruncated, Source: source, Err: err})
		}
		if ev.Payload == nil {
			continue
		}

		n, err := w.Write(ev.Payload)
		written += int64(n)
		p.metrics.StagedBytes.Add(float64(n))
		if err != nil {
			return written, pkgerrors.WithStack(&Error{Kind: ErrStagingIO, Source: source, Err: err})
		}
	}
}

func (p *Pipeline) cleanup(logger zerolog.Logger, path string) {
	err := p.removeFile(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	p.metrics.CleanupFailures.Inc()
	logger.Warn().Err(err).Str("path", path).Msg("There was an error removing the staging file, proceeding anyway")
}

func sourceOf(stream Stream) string {
	if s, ok := stream.(Sourced); ok {
		return s.Source()
	}
	return "stream"
}
