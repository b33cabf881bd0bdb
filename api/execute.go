package api

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/seq"
)

// Execute loads the artifact, runs the sequence once and returns the device
// contents of every argument not given as input. A timeout is returned as
// is and never retried.
func Execute(
	drv Driver,
	a *Artifact,
	s *seq.Sequence,
	inputs map[string][]uint32,
	timeout time.Duration,
) (map[string][]uint32, error) {
	if err := drv.Load(a); err != nil {
		return nil, err
	}

	for name := range inputs {
		if !hasArg(s, name) {
			return nil, errors.Wrapf(seq.ErrUnknownArg, "input %s", name)
		}
	}

	bos := make([]*BufferObject, 0, len(s.Args()))
	layout := seq.Layout{}

	for _, arg := range s.Args() {
		bo, err := drv.AllocBuffer(arg.Name, arg.Bytes())
		if err != nil {
			return nil, err
		}

		bos = append(bos, bo)
		layout = layout.Place(arg.Name, bo.Addr, arg.Bytes())

		in, ok := inputs[arg.Name]
		if !ok {
			continue
		}

		if len(in) > len(bo.Data) {
			return nil, errors.Errorf("input %s has %d words, buffer holds %d",
				arg.Name, len(in), len(bo.Data))
		}

		copy(bo.Data, in)
		if err := drv.SyncToDevice(bo); err != nil {
			return nil, err
		}
	}

	insts, err := s.Emit(layout)
	if err != nil {
		return nil, err
	}

	if err := drv.Run(insts); err != nil {
		return nil, err
	}

	if err := drv.Wait(timeout); err != nil {
		return nil, err
	}

	out := make(map[string][]uint32)
	for _, bo := range bos {
		if _, ok := inputs[bo.Name]; ok {
			continue
		}

		if err := drv.SyncFromDevice(bo); err != nil {
			return nil, err
		}

		out[bo.Name] = bo.Data
	}

	return out, nil
}

func hasArg(s *seq.Sequence, name string) bool {
	for _, a := range s.Args() {
		if a.Name == name {
			return true
		}
	}

	return false
}
