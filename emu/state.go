package emu

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
)

func (p dmaPhase) String() string {
	switch p {
	case phaseAcquire:
		return "acquire"
	case phaseTransfer:
		return "transfer"
	case phaseRelease:
		return "release"
	default:
		panic("invalid phase")
	}
}

// ChannelTable shows every DMA channel that has been given work.
func (d *Device) ChannelTable() table.Writer {
	t := table.NewWriter()
	t.SetTitle(d.name + " DMA Channels")
	t.AppendHeader(table.Row{"Channel", "Phase", "BD", "Round", "Queued", "Moved"})

	for _, id := range d.channels() {
		c := d.dmas[id]
		if c == nil || (!c.busy() && c.moved == 0) {
			continue
		}

		phase, bd, round := "idle", "-", "-"
		if c.cur != nil {
			phase = c.phase.String()
			bd = c.cur.transfers[c.idx].name
			round = strconv.Itoa(c.round)
		}

		t.AppendRow(table.Row{id.String(), phase, bd, round, len(c.queue), c.moved})
	}

	return t
}

// LockTable shows the current count of every lock the design declares.
func (d *Device) LockTable() table.Writer {
	t := table.NewWriter()
	t.SetTitle(d.name + " Locks")
	t.AppendHeader(table.Row{"Tile", "ID", "Name", "Init", "Count"})

	for _, l := range d.design.Locks.All() {
		t.AppendRow(table.Row{l.Tile.String(), l.ID, l.Name, l.Init, d.locks.Count(l.Tile, l.ID)})
	}

	return t
}
