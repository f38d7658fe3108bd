package ui

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/listproof/internal/verify"
)

// CaptureOnFailure runs fn. When fn fails with a defect or schema drift, a
// screenshot of the page is taken and its reference attached to the
// failure. Any other outcome is returned unchanged.
func CaptureOnFailure(ctx context.Context, d Driver, logger *slog.Logger, fn func() error) error {
	err := fn()
	if !verify.IsDefect(err) && !verify.IsSchemaDrift(err) {
		return err
	}
	var f *verify.Failure
	if !errors.As(err, &f) {
		return err
	}
	name := f.Resource + "-" + f.Operation + "-" + time.Now().UTC().Format("20060102T150405.000")
	ref, serr := d.Screenshot(ctx, name)
	if serr != nil {
		if logger != nil {
			logger.Warn("screenshot failed", "resource", f.Resource, "op", f.Operation, "error", serr)
		}
		return err
	}
	f.Screenshot = ref
	return err
}
