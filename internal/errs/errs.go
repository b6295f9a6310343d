// Package errs defines the typed error kinds from spec.md §7 and the
// propagation contract (per-series and per-subject isolation) the rest of
// the engine relies on.
package errs

import "fmt"

// Kind classifies an engine error so callers can decide whether a failure
// is fatal to the whole run, to one subject, or to one series.
type Kind int

const (
	// KindUsage covers missing heuristics, unknown grouping modes, and
	// conflicting flags. Fatal, no side effects on disk.
	KindUsage Kind = iota
	// KindStudyConsistency covers conflicting Study Instance UIDs or
	// subject mismatches within a session. Fatal for the subject/session.
	KindStudyConsistency
	// KindHeuristic covers a heuristic returning an error, returning an invalid
	// shape, or referencing an unknown series_id. Fatal for the subject.
	KindHeuristic
	// KindTranscoder covers a non-zero exit or empty transcoder output.
	// Fatal for the series; other series continue.
	KindTranscoder
	// KindSidecar covers a JSON read-back or pretty-print failure.
	// Recoverable: the original sidecar is kept.
	KindSidecar
	// KindFilesystem covers lock/rename/write failures, retried with
	// backoff and surfaced after exhaustion.
	KindFilesystem
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "UsageError"
	case KindStudyConsistency:
		return "StudyConsistencyError"
	case KindHeuristic:
		return "HeuristicError"
	case KindTranscoder:
		return "TranscoderError"
	case KindSidecar:
		return "SidecarError"
	case KindFilesystem:
		return "FilesystemError"
	default:
		return "UnknownError"
	}
}

// Error is the engine's typed error value. Context fields are optional and
// only set when applicable.
type Error struct {
	Kind    Kind
	Subject string
	Session string
	Series  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var ctx string
	switch {
	case e.Subject != "" && e.Series != "":
		ctx = fmt.Sprintf(" [subject=%s series=%s]", e.Subject, e.Series)
	case e.Subject != "":
		ctx = fmt.Sprintf(" [subject=%s]", e.Subject)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s%s: %s: %v", e.Kind, ctx, e.Message, e.Err)
	}
	return fmt.Sprintf("%s%s: %s", e.Kind, ctx, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Usage builds a KindUsage error.
func Usage(format string, args ...interface{}) *Error {
	return newf(KindUsage, nil, format, args...)
}

// StudyConsistency builds a KindStudyConsistency error scoped to a subject.
func StudyConsistency(subject, session, format string, args ...interface{}) *Error {
	e := newf(KindStudyConsistency, nil, format, args...)
	e.Subject, e.Session = subject, session
	return e
}

// Heuristic builds a KindHeuristic error scoped to a subject.
func Heuristic(subject string, err error, format string, args ...interface{}) *Error {
	e := newf(KindHeuristic, err, format, args...)
	e.Subject = subject
	return e
}

// Transcoder builds a KindTranscoder error scoped to one series.
func Transcoder(subject, series string, err error, format string, args ...interface{}) *Error {
	e := newf(KindTranscoder, err, format, args...)
	e.Subject, e.Series = subject, series
	return e
}

// Sidecar builds a KindSidecar error; always recoverable by the caller.
func Sidecar(path string, err error) *Error {
	return newf(KindSidecar, err, "sidecar JSON failure at %s", path)
}

// Filesystem builds a KindFilesystem error, generally after retries are
// exhausted.
func Filesystem(err error, format string, args ...interface{}) *Error {
	return newf(KindFilesystem, err, format, args...)
}

// Is implements errors.Is support against Kind sentinels via As+compare.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}
