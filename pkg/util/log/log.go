// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log provides leveled, context-tagged logging for the row cache.
//
// It is a deliberately small surface: severity-prefixed output to stderr,
// redaction-aware formatting, and a verbosity knob for trace-level event
// logging. Context tags attached via logtags.AddTag are rendered as a
// bracketed prefix, so a reader tagged with [csm=<uuid prefix>] produces output
// attributable to a single read.
package log

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
)

// Severity identifies the importance of a log entry.
type Severity int32

const (
	// SeverityInfo is used for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is used for situations which may impair operation.
	SeverityWarning
	// SeverityError is used for errors that the caller may want to act on.
	SeverityError
	// SeverityFatal terminates the process after logging.
	SeverityFatal
)

func (s Severity) prefix() byte {
	switch s {
	case SeverityWarning:
		return 'W'
	case SeverityError:
		return 'E'
	case SeverityFatal:
		return 'F'
	default:
		return 'I'
	}
}

// vLevel holds the active verbosity. Trace-level VEventf calls with a level
// at or below this value are emitted.
var vLevel int32

func init() {
	if v, err := strconv.Atoi(os.Getenv("ROWCACHE_VERBOSITY")); err == nil {
		atomic.StoreInt32(&vLevel, int32(v))
	}
}

// SetVerbosity changes the active verbosity level and returns the previous
// value. Intended for tests.
func SetVerbosity(level int) int {
	return int(atomic.SwapInt32(&vLevel, int32(level)))
}

// V returns true if verbose logging is enabled at the given level.
func V(level int32) bool {
	return atomic.LoadInt32(&vLevel) >= level
}

// Infof logs to the INFO channel.
func Infof(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityInfo, format, args...)
}

// Warningf logs to the WARNING channel.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityWarning, format, args...)
}

// Errorf logs to the ERROR channel.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityError, format, args...)
}

// Fatalf logs to the FATAL channel and exits the process.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityFatal, format, args...)
	os.Exit(255)
}

// VEventf logs a trace event if verbosity is at or above the given level.
// This is the hot-path trace hook; callers are expected to rely on V's
// cheapness and not pre-build arguments.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if !V(level) {
		return
	}
	output(ctx, SeverityInfo, format, args...)
}

func output(ctx context.Context, sev Severity, format string, args ...interface{}) {
	var buf strings.Builder
	buf.WriteByte(sev.prefix())
	buf.WriteString(time.Now().UTC().Format("060102 15:04:05.000000"))
	buf.WriteByte(' ')
	if tags := logtags.FromContext(ctx); tags != nil {
		buf.WriteByte('[')
		buf.WriteString(tags.String())
		buf.WriteString("] ")
	}
	buf.WriteString(redact.Sprintf(format, args...).StripMarkers())
	buf.WriteByte('\n')
	fmt.Fprint(os.Stderr, buf.String())
}
