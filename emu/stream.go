package emu

// fifo is the receive buffer of one S2MM channel.
type fifo struct {
	data  []uint32
	depth int
}

func (f *fifo) canPush() bool {
	return len(f.data) < f.depth
}

func (f *fifo) push(v uint32) {
	f.data = append(f.data, v)
}

func (f *fifo) empty() bool {
	return len(f.data) == 0
}

func (f *fifo) pop() uint32 {
	v := f.data[0]
	f.data = f.data[1:]

	return v
}

// fanout is the stream leaving one MM2S channel. A word is sent only when
// every destination can take it.
type fanout struct {
	dests []*fifo
}

func (o *fanout) canPush() bool {
	for _, d := range o.dests {
		if !d.canPush() {
			return false
		}
	}

	return len(o.dests) > 0
}

func (o *fanout) push(v uint32) {
	for _, d := range o.dests {
		d.push(v)
	}
}
