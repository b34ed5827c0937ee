package metrics

import "errors"

var (
	// ErrDuplicateMetric is returned by Register when the name is taken.
	ErrDuplicateMetric = errors.New("metric already registered")

	// ErrUnknownMetric is returned by Handle for names never registered.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrCardinalityExceeded is returned when a new label set would push a
	// metric over its label set ceiling. The observation is dropped.
	ErrCardinalityExceeded = errors.New("label set cardinality exceeded")

	// ErrInvalidLabelSet is returned when label keys do not match the
	// descriptor's label names exactly.
	ErrInvalidLabelSet = errors.New("invalid label set")

	// ErrInvalidDescriptor is returned by Register for malformed descriptors.
	ErrInvalidDescriptor = errors.New("invalid metric descriptor")

	// ErrKindMismatch is returned when an operation is not supported by the
	// metric kind, e.g. Observe on a counter.
	ErrKindMismatch = errors.New("operation not supported by metric kind")

	// ErrInvalidValue is returned for NaN observations and negative counter
	// increments.
	ErrInvalidValue = errors.New("invalid metric value")
)
