package flow

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/npu"
)

// Flow is a configured stream path from a source channel to a destination
// channel.
type Flow struct {
	Source        npu.TileID
	SourceChannel int
	Dest          npu.TileID
	DestChannel   int
	SourceAnnot   string
	DestAnnot     string
}

// SourceEnd returns the sending channel of the flow.
func (f Flow) SourceEnd() npu.Channel {
	return npu.Channel{Tile: f.Source, Direction: npu.MM2S, Index: f.SourceChannel}
}

// DestEnd returns the receiving channel of the flow.
func (f Flow) DestEnd() npu.Channel {
	return npu.Channel{Tile: f.Dest, Direction: npu.S2MM, Index: f.DestChannel}
}

func (f Flow) String() string {
	return fmt.Sprintf("%s -> %s", f.SourceEnd(), f.DestEnd())
}

type endKey struct {
	tile npu.TileID
	dir  npu.Direction
}

type tagKey struct {
	end endKey
	tag string
}

// Query selects flows by one of their ends. Direction MM2S matches flows
// leaving Tile, S2MM matches flows arriving at it. An empty Tag matches any
// annotation.
type Query struct {
	Tile      npu.TileID
	Direction npu.Direction
	Tag       string
}

// Registry records the flows of a device and the channels they occupy.
type Registry struct {
	model npu.DeviceModel
	flows []Flow
	used  map[endKey][]int
	index map[tagKey][]int
}

// NewRegistry creates an empty registry for the device.
func NewRegistry(model npu.DeviceModel) *Registry {
	return &Registry{
		model: model,
		used:  make(map[endKey][]int),
		index: make(map[tagKey][]int),
	}
}

// Model returns the device the registry allocates for.
func (r *Registry) Model() npu.DeviceModel {
	return r.model
}

// Clone returns an independent copy.
func (r *Registry) Clone() *Registry {
	c := NewRegistry(r.model)
	c.flows = slices.Clone(r.flows)

	for k, v := range r.used {
		c.used[k] = slices.Clone(v)
	}

	for k, v := range r.index {
		c.index[k] = slices.Clone(v)
	}

	return c
}

// Used returns the channels in use at one end, in ascending order.
func (r *Registry) Used(tile npu.TileID, dir npu.Direction) []int {
	return slices.Clone(r.used[endKey{tile, dir}])
}

func (r *Registry) markUsed(tile npu.TileID, dir npu.Direction, ch int) {
	k := endKey{tile, dir}

	used := r.used[k]
	i, found := slices.BinarySearch(used, ch)
	if !found {
		r.used[k] = slices.Insert(used, i, ch)
	}
}

// nextChannel picks the lowest gap below the highest used channel, or the
// channel after it.
func (r *Registry) nextChannel(tile npu.TileID, dir npu.Direction) int {
	used := r.used[endKey{tile, dir}]
	if len(used) == 0 {
		return 0
	}

	for i, ch := range used {
		if ch != i {
			return i
		}
	}

	return used[len(used)-1] + 1
}

func (r *Registry) add(f Flow) {
	i := len(r.flows)
	r.flows = append(r.flows, f)

	r.markUsed(f.Source, npu.MM2S, f.SourceChannel)
	r.markUsed(f.Dest, npu.S2MM, f.DestChannel)

	src := endKey{f.Source, npu.MM2S}
	dst := endKey{f.Dest, npu.S2MM}
	r.index[tagKey{src, ""}] = append(r.index[tagKey{src, ""}], i)
	r.index[tagKey{dst, ""}] = append(r.index[tagKey{dst, ""}], i)

	if f.SourceAnnot != "" {
		r.index[tagKey{src, f.SourceAnnot}] = append(r.index[tagKey{src, f.SourceAnnot}], i)
	}

	if f.DestAnnot != "" {
		r.index[tagKey{dst, f.DestAnnot}] = append(r.index[tagKey{dst, f.DestAnnot}], i)
	}
}

// All returns every flow in creation order.
func (r *Registry) All() []Flow {
	return slices.Clone(r.flows)
}

// Len returns the number of flows.
func (r *Registry) Len() int {
	return len(r.flows)
}

// Lookup returns the flows matching q in creation order.
func (r *Registry) Lookup(q Query) []Flow {
	ids := r.index[tagKey{endKey{q.Tile, q.Direction}, q.Tag}]

	out := make([]Flow, 0, len(ids))
	for _, i := range ids {
		out = append(out, r.flows[i])
	}

	return out
}

// Single returns the only flow matching q.
func (r *Registry) Single(q Query) (Flow, error) {
	found := r.Lookup(q)
	if len(found) != 1 {
		return Flow{}, errors.Wrapf(ErrNotSingle, "%d flows %s %s tagged %q",
			len(found), q.Direction, q.Tile, q.Tag)
	}

	return found[0], nil
}

// Table renders the flows as a table.
func (r *Registry) Table() table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Source", "Ch", "Dest", "Ch", "Source Tag", "Dest Tag"})

	for i, f := range r.flows {
		t.AppendRow(table.Row{
			i,
			f.Source,
			strconv.Itoa(f.SourceChannel),
			f.Dest,
			strconv.Itoa(f.DestChannel),
			f.SourceAnnot,
			f.DestAnnot,
		})
	}

	return t
}
