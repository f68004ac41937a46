// Package reassembler turns a stream of possibly overlapping, out-of-order
// byte substrings at absolute stream indices into the contiguous prefix fed
// to a ByteStream writer.
package reassembler

import (
	"tcpip-core/pkg/bytestream"

	"github.com/google/btree"
)

// fragment is a buffered, not-yet-deliverable run of bytes starting at a
// known absolute index. The btree orders fragments by start index, which is
// exactly the predecessor/successor query the merge logic needs.
type fragment struct {
	start uint64
	data  []byte
}

func (f fragment) end() uint64 {
	return f.start + uint64(len(f.data))
}

func fragmentLess(a, b fragment) bool {
	return a.start < b.start
}

// Reassembler buffers out-of-order fragments and pushes the contiguous
// prefix of the stream into output as it becomes available.
type Reassembler struct {
	output *bytestream.ByteStream

	nextIndex uint64
	eofKnown  bool
	eofIndex  uint64

	unassembled *btree.BTreeG[fragment]
}

// New constructs a Reassembler that owns output; insert delivers bytes into
// it in order and closes it once EOF is known and reached.
func New(output *bytestream.ByteStream) *Reassembler {
	return &Reassembler{
		output:      output,
		unassembled: btree.NewG(32, fragmentLess),
	}
}

// Output returns the underlying output stream.
func (r *Reassembler) Output() *bytestream.ByteStream {
	return r.output
}

// NextIndex returns the next absolute stream offset to deliver.
func (r *Reassembler) NextIndex() uint64 {
	return r.nextIndex
}

// Insert places data at absolute index firstIndex. If isLast is true, this
// call establishes (or re-confirms) that the stream ends at
// firstIndex+len(data).
func (r *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool) {
	if isLast {
		r.eofKnown = true
		r.eofIndex = firstIndex + uint64(len(data))
	}

	if len(data) == 0 {
		r.maybeCloseOnEOF()
		return
	}

	// Already delivered: nothing new to do but still check for EOF closure.
	if firstIndex+uint64(len(data)) <= r.nextIndex {
		r.maybeCloseOnEOF()
		return
	}

	availableCapacity := r.output.AvailableCapacity()
	acceptableEnd := r.nextIndex + availableCapacity

	if firstIndex >= acceptableEnd {
		// Entirely beyond what the output stream can currently hold.
		return
	}

	actualStart := firstIndex
	if r.nextIndex > actualStart {
		actualStart = r.nextIndex
	}
	actualEnd := firstIndex + uint64(len(data))
	if acceptableEnd < actualEnd {
		actualEnd = acceptableEnd
	}

	offset := actualStart - firstIndex
	length := actualEnd - actualStart
	usable := data[offset : offset+length]
	usableIndex := actualStart

	if usableIndex == r.nextIndex {
		r.pushAndAbsorb(usable)
	} else if len(usable) > 0 {
		r.bufferFragment(fragment{start: usableIndex, data: usable})
	}

	r.maybeCloseOnEOF()
}

// pushAndAbsorb writes usable directly to the output (it starts exactly at
// nextIndex), then repeatedly consumes any buffered fragment that is now
// adjacent to or overlapping the new frontier.
func (r *Reassembler) pushAndAbsorb(usable []byte) {
	r.output.Push(usable)
	r.nextIndex += uint64(len(usable))

	for {
		var front fragment
		found := false
		r.unassembled.Ascend(func(f fragment) bool {
			front = f
			found = true
			return false
		})
		if !found || front.start > r.nextIndex {
			break
		}

		r.unassembled.Delete(front)

		overlap := r.nextIndex - front.start
		if overlap < uint64(len(front.data)) {
			newData := front.data[overlap:]
			r.output.Push(newData)
			r.nextIndex += uint64(len(newData))
		}
	}
}

// bufferFragment stores a fragment that starts after nextIndex, merging it
// with any buffered fragment it touches or overlaps so the map keeps
// disjoint, non-adjacent runs.
func (r *Reassembler) bufferFragment(f fragment) {
	// Merge with the predecessor fragment if it overlaps or is adjacent.
	var pred fragment
	havePred := false
	r.unassembled.DescendLessOrEqual(fragment{start: f.start}, func(p fragment) bool {
		pred = p
		havePred = true
		return false
	})
	if havePred && pred.end() >= f.start {
		if pred.end() < f.end() {
			extra := f.data[pred.end()-f.start:]
			merged := append(append([]byte{}, pred.data...), extra...)
			f = fragment{start: pred.start, data: merged}
		} else {
			// f is entirely covered by pred; nothing to add.
			return
		}
		r.unassembled.Delete(pred)
	}

	// Merge with any following fragments that f now touches or overlaps.
	for {
		var next fragment
		haveNext := false
		r.unassembled.AscendGreaterOrEqual(fragment{start: f.start}, func(n fragment) bool {
			next = n
			haveNext = true
			return false
		})
		if !haveNext || next.start > f.end() {
			break
		}
		if next.end() > f.end() {
			extra := next.data[f.end()-next.start:]
			f = fragment{start: f.start, data: append(append([]byte{}, f.data...), extra...)}
		}
		r.unassembled.Delete(next)
	}

	r.unassembled.ReplaceOrInsert(f)
}

func (r *Reassembler) maybeCloseOnEOF() {
	if r.eofKnown && r.nextIndex == r.eofIndex {
		r.output.Close()
	}
}

// CountBytesPending returns the total length of buffered, not-yet-delivered
// bytes.
func (r *Reassembler) CountBytesPending() uint64 {
	var total uint64
	r.unassembled.Ascend(func(f fragment) bool {
		if f.end() > r.nextIndex {
			start := f.start
			if r.nextIndex > start {
				start = r.nextIndex
			}
			total += f.end() - start
		}
		return true
	})
	return total
}
