package pipes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// FileWriter streams a reader into a file. Data is written to a temporary
// ".part" file renamed to Path on success; partial files are removed.
type FileWriter struct {
	Path string
	// Called after every chunk with the total bytes written so far.
	OnProgress func(written int64)
}

func (f *FileWriter) Name() string { return "file-writer" }

// Copy writes r into the file. Write failures wrap ErrStorage, read failures
// are returned unchanged.
func (f *FileWriter) Copy(ctx context.Context, r io.Reader) (int64, error) {
	part := f.Path + ".part"

	file, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	w := &observedWriter{w: file, onWrite: f.OnProgress}
	n, err := io.Copy(w, &contextReader{ctx: ctx, r: r})

	if cerr := file.Close(); err == nil && cerr != nil {
		err = cerr
		w.err = cerr
	}

	if err != nil {
		os.Remove(part)
		slog.Error("file writer error", slog.String("path", f.Path), slog.Any("err", err))
		if w.err != nil {
			return n, fmt.Errorf("%w: %w", ErrStorage, err)
		}
		return n, err
	}

	if err := os.Rename(part, f.Path); err != nil {
		os.Remove(part)
		return n, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return n, nil
}

type observedWriter struct {
	w       io.Writer
	written int64
	onWrite func(int64)
	err     error
}

func (o *observedWriter) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	o.written += int64(n)
	if err != nil {
		o.err = err
		return n, err
	}
	if o.onWrite != nil {
		o.onWrite(o.written)
	}
	return n, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, errors.Join(io.ErrUnexpectedEOF, err)
	}
	return c.r.Read(p)
}
