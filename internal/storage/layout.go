package storage

// File layout under the configured prefix P, per spec.md §6.
//
// The original Rust source's HIGH_PRIORITY_EXTENSION/LOW_PRIORITY_EXTENSION
// constants are swapped relative to the priority they label (a labeled bug,
// spec.md §9). This implementation deliberately does not reproduce that
// swap: PriorityHigh maps to "_high_priority.dat" and PriorityLow to
// "_low_priority.dat".
const (
	highSuffix      = "_high_priority.dat"
	lowSuffix       = "_low_priority.dat"
	completedSuffix = "_completed.dat"

	bakSuffix = ".bak"

	gcHighSuffix      = "_gc_high_priority.dat"
	gcLowSuffix       = "_gc_low_priority.dat"
	gcCompletedSuffix = "_gc_completed.dat"

	drainSuffix = ".drain"
)

func (l *Log) highPath() string      { return l.prefix + highSuffix }
func (l *Log) lowPath() string       { return l.prefix + lowSuffix }
func (l *Log) completedPath() string { return l.prefix + completedSuffix }

func (l *Log) gcHighPath() string      { return l.prefix + gcHighSuffix }
func (l *Log) gcLowPath() string       { return l.prefix + gcLowSuffix }
func (l *Log) gcCompletedPath() string { return l.prefix + gcCompletedSuffix }
