package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/bd"
	"github.com/sarchlab/npudma/buffering"
	"github.com/sarchlab/npudma/design"
	"github.com/sarchlab/npudma/flow"
	"github.com/sarchlab/npudma/npu"
	"github.com/sarchlab/npudma/seq"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDesign is returned for a design file that does not describe a
// valid design.
var ErrInvalidDesign = errors.New("invalid design file")

// Tiles is one tile written as [col, row], or a list of them.
type Tiles []npu.TileID

// UnmarshalYAML accepts both [c, r] and [[c, r], ...].
func (t *Tiles) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode || len(n.Content) == 0 {
		return errors.Errorf("line %d: tile must be [col, row]", n.Line)
	}

	if n.Content[0].Kind == yaml.ScalarNode {
		var cr [2]int
		if err := n.Decode(&cr); err != nil {
			return err
		}

		*t = Tiles{npu.Tile(cr[0], cr[1])}

		return nil
	}

	var list [][2]int
	if err := n.Decode(&list); err != nil {
		return err
	}

	*t = make(Tiles, len(list))
	for i, cr := range list {
		(*t)[i] = npu.Tile(cr[0], cr[1])
	}

	return nil
}

func (t Tiles) one(what string) (npu.TileID, error) {
	if len(t) != 1 {
		return npu.TileID{}, errors.Wrapf(ErrInvalidDesign, "%s needs one tile, got %d", what, len(t))
	}

	return t[0], nil
}

// File is the YAML form of a design and its host sequence.
type File struct {
	Name     string        `yaml:"name"`
	Device   string        `yaml:"device"`
	Buffers  []BufferSpec  `yaml:"buffers"`
	Locks    []LockSpec    `yaml:"locks"`
	Flows    []FlowSpec    `yaml:"flows"`
	Links    []LinkSpec    `yaml:"links"`
	Kernels  []KernelSpec  `yaml:"kernels"`
	Programs []ProgramSpec `yaml:"programs"`
	Cores    []CoreSpec    `yaml:"cores"`
	Sequence SequenceSpec  `yaml:"sequence"`
}

// BufferSpec declares a buffer in the memory of one tile.
type BufferSpec struct {
	Name  string `yaml:"name"`
	Tile  Tiles  `yaml:"tile"`
	Type  string `yaml:"type"`
	Shape []int  `yaml:"shape"`
}

// LockSpec declares a lock with its initial count.
type LockSpec struct {
	Name string `yaml:"name"`
	Tile Tiles  `yaml:"tile"`
	Init int    `yaml:"init"`
}

// FlowSpec is a flow from one source to many destinations, or from many
// sources to one destination.
type FlowSpec struct {
	Name   string `yaml:"name"`
	Source Tiles  `yaml:"source"`
	Dest   Tiles  `yaml:"dest"`
}

// LinkSpec forwards flow In into flow Out through a buffer of a memory
// tile. Without Repeat the forward loops forever.
type LinkSpec struct {
	Tile   Tiles  `yaml:"tile"`
	Buffer string `yaml:"buffer"`
	In     string `yaml:"in"`
	Out    string `yaml:"out"`
	Repeat *int   `yaml:"repeat"`
}

// ArgSpec is a kernel argument or a host tensor. Host tensors give Len,
// kernel arguments give Shape.
type ArgSpec struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Shape []int  `yaml:"shape"`
	Len   int    `yaml:"len"`
}

// KernelSpec declares an external kernel by name and binary.
type KernelSpec struct {
	Name   string    `yaml:"name"`
	Binary string    `yaml:"binary"`
	Args   []ArgSpec `yaml:"args"`
}

// LockRef names a lock and what a BD does to it. Action is "ge" (default)
// or "eq" for acquires.
type LockRef struct {
	Lock   string `yaml:"lock"`
	Action string `yaml:"action"`
	Value  int    `yaml:"value"`
}

// ProgramSpec is a single-BD program at Tile. Its channel is the end of Flow
// on the tile, or Channel when no flow is named. Without Repeat it loops.
type ProgramSpec struct {
	Tile      Tiles    `yaml:"tile"`
	Direction string   `yaml:"direction"`
	Channel   *int     `yaml:"channel"`
	Flow      string   `yaml:"flow"`
	Buffer    string   `yaml:"buffer"`
	Acquire   LockRef  `yaml:"acquire"`
	Release   LockRef  `yaml:"release"`
	Repeat    *int     `yaml:"repeat"`
	Offset    int      `yaml:"offset"`
	Length    int      `yaml:"length"`
	Dims      [][2]int `yaml:"dims"`
}

// OpSpec is one operation of a core body. Exactly one of Acquire,
// AcquireEq, Release, Call and Loop is set.
type OpSpec struct {
	Acquire   string   `yaml:"acquire"`
	AcquireEq string   `yaml:"acquire_eq"`
	Release   string   `yaml:"release"`
	Value     int      `yaml:"value"`
	Call      string   `yaml:"call"`
	Args      []string `yaml:"args"`
	Loop      *int     `yaml:"loop"`
	Body      []OpSpec `yaml:"body"`
}

// CoreSpec is the body of the core of a compute tile.
type CoreSpec struct {
	Tile Tiles    `yaml:"tile"`
	Body []OpSpec `yaml:"body"`
}

// SeqOpSpec is a host transfer over the shim end of a flow, or a wait on it.
type SeqOpSpec struct {
	Memcpy  string `yaml:"memcpy"`
	Arg     string `yaml:"arg"`
	Repeats int    `yaml:"repeats"`
	Wait    string `yaml:"wait"`
}

// SequenceSpec is the host sequence: its tensors, then its operations.
type SequenceSpec struct {
	Args []ArgSpec   `yaml:"args"`
	Ops  []SeqOpSpec `yaml:"ops"`
}

// Project is a loaded design together with its host sequence.
type Project struct {
	Design   *design.Design
	Sequence *seq.Sequence
	Flows    map[string][]flow.Flow
}

// LoadDesign reads a design file.
func LoadDesign(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read design")
	}

	p, err := ParseDesign(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}

	return p, nil
}

// ParseDesign builds a design from YAML. Unknown keys are rejected.
func ParseDesign(data []byte) (*Project, error) {
	var f File

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrapf(ErrInvalidDesign, "%v", err)
	}

	return f.Build()
}

func deviceModel(name string) (npu.DeviceModel, error) {
	switch strings.ToLower(name) {
	case "", "npu":
		return npu.NPU(), nil
	case "npu1_1col":
		return npu.NPU1Col1(), nil
	default:
		return npu.DeviceModel{}, errors.Wrapf(ErrInvalidDesign, "unknown device %q", name)
	}
}

func elemType(name string) (npu.ElemType, error) {
	e, ok := npu.ParseElemType(name)
	if !ok {
		return e, errors.Wrapf(ErrInvalidDesign, "unknown element type %q", name)
	}

	return e, nil
}

type builder struct {
	p     *Project
	d     *design.Design
	locks map[string]*npu.Lock
	args  map[string]*seq.Arg
}

// Build creates the design the file describes.
func (f *File) Build() (*Project, error) {
	model, err := deviceModel(f.Device)
	if err != nil {
		return nil, err
	}

	d := design.New(f.Name, model)
	b := &builder{
		p: &Project{
			Design:   d,
			Sequence: seq.New(model),
			Flows:    make(map[string][]flow.Flow),
		},
		d:     d,
		locks: make(map[string]*npu.Lock),
		args:  make(map[string]*seq.Arg),
	}

	steps := []func(*File) error{
		b.buffers, b.locksOf, b.flows, b.links, b.kernels, b.programs, b.cores, b.sequence,
	}
	for _, step := range steps {
		if err := step(f); err != nil {
			return nil, err
		}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return b.p, nil
}

func (b *builder) buffers(f *File) error {
	for _, s := range f.Buffers {
		t, err := s.Tile.one("buffer " + s.Name)
		if err != nil {
			return err
		}

		e, err := elemType(s.Type)
		if err != nil {
			return err
		}

		if _, err := b.d.Buffer(s.Name, t, e, s.Shape...); err != nil {
			return err
		}
	}

	return nil
}

func (b *builder) locksOf(f *File) error {
	for _, s := range f.Locks {
		if _, dup := b.locks[s.Name]; dup {
			return errors.Wrapf(design.ErrDuplicateName, "lock %s", s.Name)
		}

		t, err := s.Tile.one("lock " + s.Name)
		if err != nil {
			return err
		}

		l, err := b.d.Lock(t, s.Init, s.Name)
		if err != nil {
			return err
		}

		b.locks[s.Name] = l
	}

	return nil
}

func (b *builder) flows(f *File) error {
	for _, s := range f.Flows {
		if _, dup := b.p.Flows[s.Name]; dup {
			return errors.Wrapf(design.ErrDuplicateName, "flow %s", s.Name)
		}

		var (
			flows []flow.Flow
			err   error
		)

		switch {
		case len(s.Source) == 0 || len(s.Dest) == 0:
			return errors.Wrapf(ErrInvalidDesign, "flow %s needs a source and a destination", s.Name)
		case len(s.Source) > 1:
			dst, derr := s.Dest.one("gather " + s.Name)
			if derr != nil {
				return derr
			}

			flows, err = b.d.Gather(flow.Of([]npu.TileID(s.Source)...), dst, s.Name, s.Name)
		default:
			flows, err = b.d.Flow(flow.Request{
				Source:      flow.Scalar(s.Source[0]),
				Dest:        flow.Of([]npu.TileID(s.Dest)...),
				SourceAnnot: flow.Scalar(s.Name),
				DestAnnot:   flow.Scalar(s.Name),
			})
		}

		if err != nil {
			return errors.Wrapf(err, "flow %s", s.Name)
		}

		b.p.Flows[s.Name] = flows
	}

	return nil
}

// endAt finds the flow of name that ends at tile on the given side.
func (b *builder) endAt(name string, tile npu.TileID, dir npu.Direction) (flow.Flow, error) {
	flows, ok := b.p.Flows[name]
	if !ok {
		return flow.Flow{}, errors.Wrapf(ErrInvalidDesign, "unknown flow %q", name)
	}

	for _, fl := range flows {
		if dir == npu.S2MM && fl.Dest == tile || dir == npu.MM2S && fl.Source == tile {
			return fl, nil
		}
	}

	return flow.Flow{}, errors.Wrapf(design.ErrNotEndpoint, "flow %s at %s", name, tile)
}

func (b *builder) buffer(name string) (*npu.Buffer, error) {
	buf, ok := b.d.LookupBuffer(name)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidDesign, "unknown buffer %q", name)
	}

	return buf, nil
}

func (b *builder) lock(name string) (*npu.Lock, error) {
	l, ok := b.locks[name]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidDesign, "unknown lock %q", name)
	}

	return l, nil
}

func (b *builder) links(f *File) error {
	for _, s := range f.Links {
		t, err := s.Tile.one("link")
		if err != nil {
			return err
		}

		buf, err := b.buffer(s.Buffer)
		if err != nil {
			return err
		}

		in, err := b.endAt(s.In, t, npu.S2MM)
		if err != nil {
			return err
		}

		out, err := b.endAt(s.Out, t, npu.MM2S)
		if err != nil {
			return err
		}

		var opts []buffering.Option
		if s.Repeat != nil {
			opts = append(opts, buffering.WithRepeatCount(*s.Repeat))
		}

		if err := b.d.Link(t, buf, in, out, opts...); err != nil {
			return err
		}
	}

	return nil
}

func (b *builder) kernels(f *File) error {
	for _, s := range f.Kernels {
		k := design.Kernel{Name: s.Name, Binary: s.Binary}
		for _, a := range s.Args {
			e, err := elemType(a.Type)
			if err != nil {
				return err
			}

			k.Args = append(k.Args, design.ArgType{Elem: e, Shape: a.Shape})
		}

		if err := b.d.Kernel(k); err != nil {
			return err
		}
	}

	return nil
}

func (b *builder) lockUse(r LockRef, acquire bool) (bd.LockUse, error) {
	l, err := b.lock(r.Lock)
	if err != nil {
		return bd.LockUse{}, err
	}

	var u bd.LockUse
	switch {
	case !acquire:
		u = bd.ReleaseOf(l)
	case r.Action == "" || r.Action == "ge":
		u = bd.Acquire(l)
	case r.Action == "eq":
		u = bd.AcquireEq(l)
	default:
		return u, errors.Wrapf(ErrInvalidDesign, "lock action %q", r.Action)
	}

	if r.Value != 0 {
		u = u.WithValue(r.Value)
	}

	return u, nil
}

func direction(name string) (npu.Direction, error) {
	switch strings.ToLower(name) {
	case "mm2s":
		return npu.MM2S, nil
	case "s2mm":
		return npu.S2MM, nil
	default:
		return 0, errors.Wrapf(ErrInvalidDesign, "direction %q", name)
	}
}

func (b *builder) programs(f *File) error {
	for _, s := range f.Programs {
		if err := b.program(s); err != nil {
			return err
		}
	}

	return nil
}

func (b *builder) program(s ProgramSpec) error {
	t, err := s.Tile.one("program")
	if err != nil {
		return err
	}

	dir, err := direction(s.Direction)
	if err != nil {
		return err
	}

	ch := 0
	switch {
	case s.Flow != "":
		fl, err := b.endAt(s.Flow, t, dir)
		if err != nil {
			return err
		}

		ch = fl.SourceChannel
		if dir == npu.S2MM {
			ch = fl.DestChannel
		}
	case s.Channel != nil:
		ch = *s.Channel
	}

	buf, err := b.buffer(s.Buffer)
	if err != nil {
		return err
	}

	acq, err := b.lockUse(s.Acquire, true)
	if err != nil {
		return err
	}

	rel, err := b.lockUse(s.Release, false)
	if err != nil {
		return err
	}

	var opts []bd.Option
	if s.Offset != 0 {
		opts = append(opts, bd.WithOffset(s.Offset))
	}

	if s.Length != 0 {
		opts = append(opts, bd.WithLength(s.Length))
	}

	if len(s.Dims) > 0 {
		dims := make([]bd.Dim, len(s.Dims))
		for i, sd := range s.Dims {
			dims[i] = bd.Dim{Size: sd[0], Stride: sd[1]}
		}

		opts = append(opts, bd.WithDims(dims...))
	}

	p := &bd.Program{
		Tile:      t,
		Direction: dir,
		Channel:   ch,
		BDs:       []*bd.BD{bd.ProcessBD(acq, buf, rel, opts...)},
		Loop:      s.Repeat == nil,
	}
	if s.Repeat != nil {
		p.RepeatCount = *s.Repeat
	}

	return b.d.AddProgram(p)
}

func (b *builder) cores(f *File) error {
	for _, s := range f.Cores {
		t, err := s.Tile.one("core")
		if err != nil {
			return err
		}

		body, err := b.d.Core(t)
		if err != nil {
			return err
		}

		if err := b.ops(body, s.Body); err != nil {
			return errors.Wrapf(err, "core %s", t)
		}
	}

	return nil
}

func (b *builder) ops(body *design.CoreBody, ops []OpSpec) error {
	for _, o := range ops {
		if err := b.op(body, o); err != nil {
			return err
		}
	}

	return nil
}

func (b *builder) op(body *design.CoreBody, o OpSpec) error {
	withValue := func(u bd.LockUse) bd.LockUse {
		if o.Value != 0 {
			return u.WithValue(o.Value)
		}

		return u
	}

	switch {
	case o.Acquire != "" || o.AcquireEq != "" || o.Release != "":
		name := o.Acquire + o.AcquireEq + o.Release
		l, err := b.lock(name)
		if err != nil {
			return err
		}

		switch {
		case o.Acquire != "":
			body.UseLock(withValue(bd.Acquire(l)))
		case o.AcquireEq != "":
			body.UseLock(withValue(bd.AcquireEq(l)))
		default:
			body.UseLock(withValue(bd.ReleaseOf(l)))
		}
	case o.Call != "":
		args := make([]*npu.Buffer, len(o.Args))
		for i, name := range o.Args {
			buf, err := b.buffer(name)
			if err != nil {
				return err
			}

			args[i] = buf
		}

		return body.Call(o.Call, args...)
	case o.Loop != nil:
		return body.Loop(*o.Loop, func() error {
			return b.ops(body, o.Body)
		})
	default:
		return errors.Wrapf(ErrInvalidDesign, "empty core operation")
	}

	return nil
}

func (b *builder) sequence(f *File) error {
	s := b.p.Sequence

	for _, a := range f.Sequence.Args {
		e, err := elemType(a.Type)
		if err != nil {
			return err
		}

		arg, err := s.Arg(a.Name, e, a.Len)
		if err != nil {
			return err
		}

		b.args[a.Name] = arg
	}

	for _, o := range f.Sequence.Ops {
		switch {
		case o.Memcpy != "":
			fl, err := b.shimEnd(o.Memcpy)
			if err != nil {
				return err
			}

			arg, ok := b.args[o.Arg]
			if !ok {
				return errors.Wrapf(seq.ErrUnknownArg, "%s", o.Arg)
			}

			if err := s.MemcpyFlow(fl, arg, seq.WithRepeats(o.Repeats)); err != nil {
				return err
			}
		case o.Wait != "":
			fl, err := b.shimEnd(o.Wait)
			if err != nil {
				return err
			}

			if err := s.WaitFlow(fl); err != nil {
				return err
			}
		default:
			return errors.Wrapf(ErrInvalidDesign, "empty sequence operation")
		}
	}

	return nil
}

// shimEnd returns the first flow of name. Flows of one name share their
// shim end.
func (b *builder) shimEnd(name string) (flow.Flow, error) {
	flows, ok := b.p.Flows[name]
	if !ok || len(flows) == 0 {
		return flow.Flow{}, errors.Wrapf(ErrInvalidDesign, "unknown flow %q", name)
	}

	return flows[0], nil
}
