// Package flow assigns DMA channels to tile-to-tile stream flows.
//
// Flows are requested between arrays of tiles. Every argument is broadcast
// to the destination shape, channels left unspecified are picked from the
// lowest free index at each end, and one Flow is produced per destination
// element. Channel usage lives in an explicit Registry that is never mutated
// in place.
package flow

import (
	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/npu"
)

var (
	// ErrShapeMismatch is returned when an argument cannot be broadcast to
	// the destination shape.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrMixedChannels is returned when explicit and automatic channels are
	// mixed in one request.
	ErrMixedChannels = errors.New("mixed explicit and automatic channel assignment")

	// ErrChannelLimit is returned when a channel index reaches the 64 slots
	// DMA iteration can address.
	ErrChannelLimit = errors.New("channel index exceeds the iteration limit")

	// ErrNoFreeChannel is returned when a tile has no channel left.
	ErrNoFreeChannel = errors.New("no free DMA channel")

	// ErrInvalidChannel is returned for an explicit channel the tile lacks.
	ErrInvalidChannel = errors.New("invalid DMA channel")

	// ErrOutsideDevice is returned for tiles outside the device.
	ErrOutsideDevice = errors.New("tile outside the device")

	// ErrNotSingle is returned by Registry.Single when zero or several flows
	// match.
	ErrNotSingle = errors.New("not exactly one matching flow")
)

// Auto marks a channel to be chosen by the allocator.
const Auto = -1

// MaxChannelIndex is the largest channel index DMA iteration can address.
const MaxChannelIndex = 63

// Request describes the flows to create. Zero arrays mean "not given":
// channels are then automatic and annotations empty.
type Request struct {
	Source        TileArray
	Dest          TileArray
	SourceChannel Array[int]
	DestChannel   Array[int]
	SourceAnnot   Array[string]
	DestAnnot     Array[string]
}

type resolved struct {
	src, dst       []npu.TileID
	srcCh, dstCh   []int
	srcTag, dstTag []string
}

func broadcastTo[T any](name string, a Array[T], shape []int, zero T) ([]T, error) {
	if a.IsZero() {
		return Fill(shape, zero).Values(), nil
	}

	b, err := a.Broadcast(shape)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}

	return b.Values(), nil
}

func normalize(req Request) (*resolved, error) {
	if req.Dest.IsZero() || req.Source.IsZero() {
		return nil, errors.Wrap(ErrShapeMismatch, "source and destination are required")
	}

	shape := req.Dest.Shape()

	var (
		r   resolved
		err error
	)

	r.dst = req.Dest.Values()
	if r.src, err = broadcastTo("source", req.Source, shape, npu.TileID{}); err != nil {
		return nil, err
	}

	if r.srcCh, err = broadcastTo("source channel", req.SourceChannel, shape, Auto); err != nil {
		return nil, err
	}

	if r.dstCh, err = broadcastTo("dest channel", req.DestChannel, shape, Auto); err != nil {
		return nil, err
	}

	if r.srcTag, err = broadcastTo("source annotation", req.SourceAnnot, shape, ""); err != nil {
		return nil, err
	}

	if r.dstTag, err = broadcastTo("dest annotation", req.DestAnnot, shape, ""); err != nil {
		return nil, err
	}

	return &r, nil
}

// allAuto reports whether every channel is Auto, and fails when only some
// are.
func allAuto(name string, chs []int) (bool, error) {
	auto := 0
	for _, ch := range chs {
		if ch == Auto {
			auto++
		}
	}

	switch auto {
	case 0:
		return false, nil
	case len(chs):
		return true, nil
	default:
		return false, errors.Wrapf(ErrMixedChannels, "%s has %d of %d automatic",
			name, auto, len(chs))
	}
}

func (r *Registry) checkTile(t npu.TileID) error {
	if !r.model.Contains(t) {
		return errors.Wrapf(ErrOutsideDevice, "%s", t)
	}

	return nil
}

func (r *Registry) checkChannel(t npu.TileID, dir npu.Direction, ch int, picked bool) error {
	if ch > MaxChannelIndex {
		return errors.Wrapf(ErrChannelLimit, "%s %s channel %d", t, dir, ch)
	}

	if ch < 0 || ch >= r.model.Channels(t) {
		if picked {
			return errors.Wrapf(ErrNoFreeChannel, "%s %s has %d channels",
				t, dir, r.model.Channels(t))
		}

		return errors.Wrapf(ErrInvalidChannel, "%s %s channel %d", t, dir, ch)
	}

	return nil
}

// Broadcast creates the flows of req. It returns a new registry holding the
// existing flows plus the new ones. reg is left unchanged, also on error.
func Broadcast(reg *Registry, req Request) (*Registry, []Flow, error) {
	r, err := normalize(req)
	if err != nil {
		return nil, nil, err
	}

	srcAuto, err := allAuto("source channel", r.srcCh)
	if err != nil {
		return nil, nil, err
	}

	dstAuto, err := allAuto("dest channel", r.dstCh)
	if err != nil {
		return nil, nil, err
	}

	if srcAuto != dstAuto {
		return nil, nil, errors.Wrap(ErrMixedChannels,
			"source and destination channels must both be given or both be automatic")
	}

	out := reg.Clone()

	for i := range r.dst {
		if err := out.checkTile(r.src[i]); err != nil {
			return nil, nil, err
		}

		if err := out.checkTile(r.dst[i]); err != nil {
			return nil, nil, err
		}
	}

	if srcAuto {
		picked := make(map[npu.TileID]int)
		for i, s := range r.src {
			ch, ok := picked[s]
			if !ok {
				ch = out.nextChannel(s, npu.MM2S)
				if err := out.checkChannel(s, npu.MM2S, ch, true); err != nil {
					return nil, nil, err
				}

				picked[s] = ch
				out.markUsed(s, npu.MM2S, ch)
			}

			r.srcCh[i] = ch
		}
	}

	if dstAuto {
		for i, d := range r.dst {
			ch := out.nextChannel(d, npu.S2MM)
			if err := out.checkChannel(d, npu.S2MM, ch, true); err != nil {
				return nil, nil, err
			}

			out.markUsed(d, npu.S2MM, ch)
			r.dstCh[i] = ch
		}
	}

	flows := make([]Flow, 0, len(r.dst))
	for i := range r.dst {
		if err := out.checkChannel(r.src[i], npu.MM2S, r.srcCh[i], false); err != nil {
			return nil, nil, err
		}

		if err := out.checkChannel(r.dst[i], npu.S2MM, r.dstCh[i], false); err != nil {
			return nil, nil, err
		}

		f := Flow{
			Source:        r.src[i],
			SourceChannel: r.srcCh[i],
			Dest:          r.dst[i],
			DestChannel:   r.dstCh[i],
			SourceAnnot:   r.srcTag[i],
			DestAnnot:     r.dstTag[i],
		}

		out.add(f)
		flows = append(flows, f)
	}

	return out, flows, nil
}

// Connect creates a single flow between two tiles with automatic channels.
func Connect(reg *Registry, src, dst npu.TileID, srcTag, dstTag string) (*Registry, Flow, error) {
	out, flows, err := Broadcast(reg, Request{
		Source:      Scalar(src),
		Dest:        Scalar(dst),
		SourceAnnot: Scalar(srcTag),
		DestAnnot:   Scalar(dstTag),
	})
	if err != nil {
		return nil, Flow{}, err
	}

	return out, flows[0], nil
}

// Gather creates one flow from every source into dest. Each source gets
// its own send channel and dest one receive channel per flow.
func Gather(reg *Registry, sources TileArray, dest npu.TileID, srcTag, dstTag string) (*Registry, []Flow, error) {
	if sources.IsZero() {
		return nil, nil, errors.Wrap(ErrShapeMismatch, "no sources")
	}

	return Broadcast(reg, Request{
		Source:      sources,
		Dest:        Fill(sources.Shape(), dest),
		SourceAnnot: Scalar(srcTag),
		DestAnnot:   Scalar(dstTag),
	})
}
