package bd

import (
	"fmt"

	"github.com/sarchlab/npudma/npu"
)

// LockAction is what a BD does to a lock.
type LockAction int

const (
	// AcquireEqual waits until the count equals the value, then subtracts it.
	AcquireEqual LockAction = iota
	// AcquireGreaterEqual waits until the count is at least the value, then
	// subtracts it.
	AcquireGreaterEqual
	// Release adds the value to the count.
	Release
)

func (a LockAction) String() string {
	switch a {
	case AcquireEqual:
		return "AcquireEqual"
	case AcquireGreaterEqual:
		return "AcquireGreaterEqual"
	case Release:
		return "Release"
	default:
		panic("invalid lock action")
	}
}

// IsAcquire reports whether the action may block.
func (a LockAction) IsAcquire() bool {
	return a == AcquireEqual || a == AcquireGreaterEqual
}

// LockUse is a lock together with the action performed on it.
type LockUse struct {
	Lock     *npu.Lock
	Action   LockAction
	Value    int
	HasValue bool
}

// Acquire returns an acquire-greater-or-equal use of the lock.
func Acquire(l *npu.Lock) LockUse {
	return LockUse{Lock: l, Action: AcquireGreaterEqual}
}

// AcquireEq returns an acquire-equal use of the lock.
func AcquireEq(l *npu.Lock) LockUse {
	return LockUse{Lock: l, Action: AcquireEqual}
}

// ReleaseOf returns a release use of the lock.
func ReleaseOf(l *npu.Lock) LockUse {
	return LockUse{Lock: l, Action: Release}
}

// WithValue returns a copy of the use with an explicit value.
func (u LockUse) WithValue(v int) LockUse {
	u.Value = v
	u.HasValue = true

	return u
}

// Amount returns the value of the use. It is 1 unless set explicitly.
func (u LockUse) Amount() int {
	if u.HasValue {
		return u.Value
	}

	return 1
}

// IsZero reports whether the use refers to no lock.
func (u LockUse) IsZero() bool {
	return u.Lock == nil
}

func (u LockUse) String() string {
	if u.IsZero() {
		return "none"
	}

	return fmt.Sprintf("%s(%s, %d)", u.Action, u.Lock, u.Amount())
}
