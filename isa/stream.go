package isa

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sarchlab/npudma/npu"
)

// Stream accumulates an instruction stream. It starts with the prolog.
type Stream struct {
	words []uint32
}

// NewStream creates a stream that holds only the prolog.
func NewStream() *Stream {
	return &Stream{words: Prolog()}
}

// Append appends raw instruction words.
func (s *Stream) Append(words ...uint32) *Stream {
	s.words = append(s.words, words...)
	return s
}

// Write32 appends a write32 instruction.
func (s *Stream) Write32(col, row int, address, value uint32) *Stream {
	return s.Append(Write32(col, row, address, value)...)
}

// Sync appends a sync instruction on a single shim channel.
func (s *Stream) Sync(col int, dir npu.Direction, channel int) *Stream {
	return s.Append(SyncChannel(col, dir, channel)...)
}

// PushQueue appends a shim task queue push.
func (s *Stream) PushQueue(dir npu.Direction, channel, col, bdID, repeats int) *Stream {
	return s.Append(ShimTilePushQueue(dir, channel, col, bdID, repeats)...)
}

// WriteShimBD appends the register writes of a shim BD pointing at addr.
func (s *Stream) WriteShimBD(p ShimBD, addr uint64) *Stream {
	return s.Append(ExtendShimBDAt(WriteBDShimTile(p), addr)...)
}

// Words returns a copy of the stream.
func (s *Stream) Words() []uint32 {
	return append([]uint32(nil), s.words...)
}

// Len returns the number of words in the stream.
func (s *Stream) Len() int {
	return len(s.words)
}

// WriteText writes one word per line as 8 hex digits.
func WriteText(w io.Writer, words []uint32) error {
	bw := bufio.NewWriter(w)
	for _, word := range words {
		if _, err := fmt.Fprintf(bw, "%08x\n", word); err != nil {
			return errors.Wrap(err, "writing instruction text")
		}
	}

	return errors.Wrap(bw.Flush(), "writing instruction text")
}

// ReadText reads the format produced by WriteText. Blank lines are skipped.
func ReadText(r io.Reader) ([]uint32, error) {
	var words []uint32

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		v, err := strconv.ParseUint(strings.TrimPrefix(text, "0x"), 16, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}

		words = append(words, uint32(v))
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading instruction text")
	}

	return words, nil
}
