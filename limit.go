package spool

import "strconv"

// Limit is a plan threshold that is either bounded by a number or
// unlimited. It replaces mixing numeric limits with an "unlimited"
// sentinel value: comparisons are defined per variant instead of relying
// on magic numbers.
type Limit struct {
	n         int64
	unbounded bool
}

// Bounded returns a limit of at most n. Negative n is treated as zero.
func Bounded(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// Unlimited returns a limit that every value is within.
func Unlimited() Limit {
	return Limit{unbounded: true}
}

// IsUnlimited reports whether the limit is unbounded.
func (l Limit) IsUnlimited() bool { return l.unbounded }

// Value returns the numeric bound. It is meaningless for unlimited limits;
// callers must check IsUnlimited first.
func (l Limit) Value() int64 { return l.n }

// Allows reports whether current is strictly below the limit, i.e. one
// more unit of usage is still admissible.
func (l Limit) Allows(current int64) bool {
	if l.unbounded {
		return true
	}
	return current < l.n
}

// AllowsDelta reports whether current+delta stays within the limit.
func (l Limit) AllowsDelta(current, delta int64) bool {
	if l.unbounded {
		return true
	}
	return current+delta <= l.n
}

// Remaining returns how much budget is left, or -1 for unlimited.
func (l Limit) Remaining(current int64) int64 {
	if l.unbounded {
		return -1
	}
	if current >= l.n {
		return 0
	}
	return l.n - current
}

// String returns the bound as a decimal, or "unlimited".
func (l Limit) String() string {
	if l.unbounded {
		return "unlimited"
	}
	return strconv.FormatInt(l.n, 10)
}
