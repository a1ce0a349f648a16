package diag

import (
	"context"
	"errors"
	"os"

	"github.com/Peruz/flintec-lpp/pipeline"
	"github.com/Peruz/flintec-lpp/repair"
	"github.com/Peruz/flintec-lpp/timeseries"
	"github.com/Peruz/flintec-lpp/window"
)

// Code is a coarse error class used in logs and metric labels.
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeOrder     Code = "order"
	CodeTimestamp Code = "timestamp"
	CodeInvariant Code = "invariant"
	CodeWindow    Code = "window"
	CodeConfig    Code = "config"
	CodeIO        Code = "io"
	CodeCancel    Code = "cancel"
)

// Classify maps err to a Code using sentinel errors only.
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	case errors.Is(err, timeseries.ErrNotAscending):
		return CodeOrder
	case errors.Is(err, timeseries.ErrTimestamp):
		return CodeTimestamp
	case errors.Is(err, repair.ErrDiscontinuity), errors.Is(err, timeseries.ErrLengthMismatch):
		return CodeInvariant
	case errors.Is(err, window.ErrEvenWindow),
		errors.Is(err, window.ErrWindowTooLong),
		errors.Is(err, window.ErrInvalidWeights),
		errors.Is(err, window.ErrNotNormalized),
		errors.Is(err, timeseries.ErrTooShort):
		return CodeWindow
	case errors.Is(err, pipeline.ErrInvalidConfig):
		return CodeConfig
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}
