// Package scanner reads QR tokens from a keyboard-wedge or serial barcode scanner,
// which emits each token followed by a newline.
package scanner

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/kimhsiao/gatesync/internal/errors"
)

// MaxTokenSize bounds one line.
const MaxTokenSize = 4096

// Lines calls fn with every non-empty, trimmed line of r until r ends or ctx is
// done. If r is an io.Closer it is closed when ctx is done so a blocked read returns.
func Lines(ctx context.Context, r io.Reader, fn func(token string)) error {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), MaxTokenSize)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		fn(token)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(errors.ErrInternal, "read scanner input", err)
	}
	return nil
}

// Open opens a scanner device node, or stdin for "" and "-".
func Open(device string) (io.ReadCloser, error) {
	if device == "" || device == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(device)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "open scanner device", err)
	}
	return f, nil
}
