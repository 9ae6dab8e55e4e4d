package reduce

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
)

// ErrorKind classifies dataflow errors.
type ErrorKind string

const (
	// ErrorEvaluation marks per-row expression evaluation failures.
	ErrorEvaluation ErrorKind = "evaluation"
	// ErrorInternal marks detected invariant violations (data corruption,
	// impossible accumulations, collation mismatches).
	ErrorInternal ErrorKind = "internal"
)

// DataflowError is an error record emitted into the error output of a
// reduction. Errors are data: they are inserted with positive multiplicity
// when they become active and retracted when they resolve.
type DataflowError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e DataflowError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e DataflowError) key() string {
	return string(e.Kind) + "\x1f" + e.Message
}

func internalError(format string, args ...any) DataflowError {
	return DataflowError{Kind: ErrorInternal, Message: fmt.Sprintf(format, args...)}
}

func evaluationError(message string) DataflowError {
	return DataflowError{Kind: ErrorEvaluation, Message: message}
}

// ErrorSet is a Z-set of dataflow errors.
type ErrorSet struct {
	errs   map[string]DataflowError
	counts map[string]int64
}

// NewErrors creates an empty error set.
func NewErrors() *ErrorSet {
	return &ErrorSet{
		errs:   make(map[string]DataflowError),
		counts: make(map[string]int64),
	}
}

// AddMutate adds an error with the given multiplicity in place.
func (s *ErrorSet) AddMutate(e DataflowError, n int64) {
	if n == 0 {
		return
	}
	key := e.key()
	if _, ok := s.counts[key]; ok {
		s.counts[key] += n
	} else {
		s.errs[key] = e
		s.counts[key] = n
	}
	if s.counts[key] == 0 {
		delete(s.counts, key)
		delete(s.errs, key)
	}
}

// AddAllMutate folds other into s in place.
func (s *ErrorSet) AddAllMutate(other *ErrorSet) {
	if other == nil {
		return
	}
	for key, n := range other.counts {
		s.AddMutate(other.errs[key], n)
	}
}

// ErrorEntry is an error together with its multiplicity.
type ErrorEntry struct {
	Err   DataflowError
	Count int64
}

// Entries returns all entries in a deterministic order.
func (s *ErrorSet) Entries() []ErrorEntry {
	keys := make([]string, 0, len(s.counts))
	for key := range s.counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	result := make([]ErrorEntry, 0, len(keys))
	for _, key := range keys {
		result = append(result, ErrorEntry{Err: s.errs[key], Count: s.counts[key]})
	}
	return result
}

// IsZero reports whether the error set is empty.
func (s *ErrorSet) IsZero() bool { return len(s.counts) == 0 }

// Multiplicity returns the multiplicity of a specific error.
func (s *ErrorSet) Multiplicity(e DataflowError) int64 { return s.counts[e.key()] }

// StrictAssertions makes programming-error checks abort instead of logging.
// Production builds leave this off: impossible plan shapes are defensively
// logged but must never take the process down.
var StrictAssertions = false

// softPanic reports a programming error: logged always, fatal only when
// strict assertions are enabled.
func softPanic(log logr.Logger, msg string, keysAndValues ...any) {
	log.Error(nil, msg, keysAndValues...)
	if StrictAssertions {
		panic(fmt.Sprintf("%s %v", msg, keysAndValues))
	}
}
