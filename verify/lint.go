package verify

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/design"
	"github.com/sarchlab/npudma/npu"
)

// RunLint performs static checks on a design. It returns the issues found,
// or an empty list.
func RunLint(d *design.Design) []Issue {
	var issues []Issue

	issues = append(issues, checkChannels(d)...)
	issues = append(issues, checkDeclarations(d)...)
	issues = append(issues, checkLocks(d)...)

	return issues
}

// checkChannels matches programs against flows. Shim ends are driven by the
// host sequence and are not checked.
func checkChannels(d *design.Design) []Issue {
	var issues []Issue

	ends := make(map[npu.Channel]bool)
	for _, f := range d.Flows.All() {
		ends[f.SourceEnd()] = true
		ends[f.DestEnd()] = true
	}

	for _, p := range d.Programs() {
		ch := p.ChannelID()
		if !ends[ch] {
			issues = append(issues, Issue{
				Type:    IssueStruct,
				Tile:    p.Tile,
				Message: fmt.Sprintf("%s is programmed but no flow uses it", ch),
				Details: map[string]interface{}{"channel": ch.String()},
			})
		}
	}

	for _, f := range d.Flows.All() {
		for _, ch := range []npu.Channel{f.SourceEnd(), f.DestEnd()} {
			if d.Model.Role(ch.Tile) == npu.ShimRole {
				continue
			}

			if _, ok := d.Program(ch); !ok {
				issues = append(issues, Issue{
					Type:    IssueStruct,
					Tile:    ch.Tile,
					Message: fmt.Sprintf("flow %s has no program on %s", f, ch),
					Details: map[string]interface{}{"flow": f.String()},
				})
			}
		}
	}

	return issues
}

func walkOps(ops []design.Op, fn func(o design.Op, weight int), weight int) {
	for _, o := range ops {
		if o.Kind == design.OpLoop {
			w := weight
			if o.Count > 0 {
				w *= o.Count
			}

			walkOps(o.Body, fn, w)

			continue
		}

		fn(o, weight)
	}
}

func checkDeclarations(d *design.Design) []Issue {
	var issues []Issue

	usedBufs := make(map[*npu.Buffer]bool)
	for _, p := range d.Programs() {
		for _, b := range p.BDs {
			usedBufs[b.Buffer] = true
		}
	}

	called := make(map[string]bool)
	for _, c := range d.Cores() {
		walkOps(c.Ops, func(o design.Op, _ int) {
			if o.Kind != design.OpCall {
				return
			}

			called[o.Kernel] = true
			for _, a := range o.Args {
				usedBufs[a] = true
			}
		}, 1)
	}

	for _, b := range d.Buffers() {
		if !usedBufs[b] {
			issues = append(issues, Issue{
				Type:    IssueStruct,
				Tile:    b.Tile,
				Message: fmt.Sprintf("buffer %s is never accessed", b.Name),
			})
		}
	}

	for _, k := range d.Kernels() {
		if !called[k.Name] {
			issues = append(issues, Issue{
				Type:    IssueStruct,
				Message: fmt.Sprintf("kernel %s is never called", k.Name),
			})
		}
	}

	return issues
}

type lockBalance struct {
	lock     *npu.Lock
	acquired int
	released int
}

func checkLocks(d *design.Design) []Issue {
	var issues []Issue

	balances := make(map[*npu.Lock]*lockBalance)
	record := func(u bd.LockUse, weight int) {
		if u.IsZero() {
			return
		}

		b, ok := balances[u.Lock]
		if !ok {
			b = &lockBalance{lock: u.Lock}
			balances[u.Lock] = b
		}

		if u.Action.IsAcquire() {
			b.acquired += u.Amount() * weight

			if u.Amount() > d.Model.MaxLockValue {
				issues = append(issues, Issue{
					Type: IssueLock,
					Tile: u.Lock.Tile,
					Message: fmt.Sprintf("%s waits for %d but the lock holds at most %d",
						u.Lock, u.Amount(), d.Model.MaxLockValue),
				})
			}

			return
		}

		b.released += u.Amount() * weight
	}

	for _, p := range d.Programs() {
		for _, b := range p.BDs {
			record(b.Acquire, 1)
			record(b.Release, 1)
		}
	}

	for _, c := range d.Cores() {
		walkOps(c.Ops, func(o design.Op, weight int) {
			if o.Kind == design.OpLock {
				record(o.Lock, weight)
			}
		}, 1)
	}

	sorted := make([]*lockBalance, 0, len(balances))
	for _, b := range balances {
		sorted = append(sorted, b)
	}

	slices.SortFunc(sorted, func(a, b *lockBalance) int {
		if a.lock.Tile != b.lock.Tile {
			if a.lock.Tile.Less(b.lock.Tile) {
				return -1
			}

			return 1
		}

		return cmp.Compare(a.lock.ID, b.lock.ID)
	})

	for _, b := range sorted {
		var msg string
		switch {
		case b.released == 0:
			msg = fmt.Sprintf("%s is acquired but never released", b.lock)
		case b.acquired == 0:
			msg = fmt.Sprintf("%s is released but never acquired", b.lock)
		case b.acquired != b.released:
			msg = fmt.Sprintf("%s is acquired %d and released %d per iteration",
				b.lock, b.acquired, b.released)
		default:
			continue
		}

		issues = append(issues, Issue{
			Type:    IssueLock,
			Tile:    b.lock.Tile,
			Message: msg,
			Details: map[string]interface{}{
				"acquired": b.acquired,
				"released": b.released,
			},
		})
	}

	return issues
}
