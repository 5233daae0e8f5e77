package entry

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
)

// CopyOptions control Copy.
type CopyOptions struct {
	// Progress is called after every entry written.
	Progress func(Entry)
	Logger   logr.Logger
}

// Stats counts what Copy wrote.
type Stats struct {
	Dirs    int
	Files   int
	Bytes   int64
	Skipped int
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Copy initializes it and w and writes every entry of it into w.
// Entries the writer cannot represent are skipped and logged. The caller
// closes both ends.
func Copy(ctx context.Context, it Iterator, w Writer, opts CopyOptions) (Stats, error) {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	var st Stats
	if err := it.Initialize(ctx); err != nil {
		return st, fmt.Errorf("source: %w", err)
	}
	if err := w.Initialize(ctx); err != nil {
		return st, fmt.Errorf("destination: %w", err)
	}
	wo := WriteOptions{Single: it.Single(), CreateIntermediate: !it.Single()}

	for {
		more, err := it.Next(ctx)
		if err != nil {
			return st, err
		}
		if !more {
			return st, nil
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}
		e := it.Current()
		rel := e.RelativePathComponents
		switch {
		case e.IsDir() && e.Type != TypeLinkDir:
			err = w.CreateDirectory(ctx, e, rel, wo)
			if err == nil {
				st.Dirs++
			}
		case e.Type == TypeFile:
			err = copyFile(ctx, it, w, e, wo, &st)
		default:
			err = w.WriteEntry(ctx, e, rel, nil, wo)
			if err == nil {
				st.Files++
			}
		}
		if err != nil {
			if KindOf(err) == KindUnsupported {
				st.Skipped++
				log.Info("skipping entry", "path", strings.Join(e.FullPathComponents, "/"), "type", e.Type.String(), "reason", err.Error())
				continue
			}
			return st, err
		}
		log.V(1).Info("copied", "path", strings.Join(rel, "/"), "type", e.Type.String(), "size", e.Size)
		if opts.Progress != nil {
			opts.Progress(e)
		}
	}
}

func copyFile(ctx context.Context, it Iterator, w Writer, e Entry, wo WriteOptions, st *Stats) error {
	rc, err := it.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	cr := &countingReader{r: rc}
	if err := w.WriteEntry(ctx, e, e.RelativePathComponents, cr, wo); err != nil {
		return err
	}
	st.Files++
	st.Bytes += cr.n
	return nil
}
