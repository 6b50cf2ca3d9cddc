package network

// seqWindow remembers the most recent delivered sequence numbers from one
// peer. Once full, the oldest entry is evicted.
type seqWindow struct {
	size  int
	seen  map[uint32]struct{}
	order []uint32
	next  int
}

func newSeqWindow(size int) *seqWindow {
	return &seqWindow{
		size:  size,
		seen:  make(map[uint32]struct{}, size),
		order: make([]uint32, 0, size),
	}
}

// observe records seq and reports whether it had not been seen before.
func (w *seqWindow) observe(seq uint32) bool {
	if _, dup := w.seen[seq]; dup {
		return false
	}

	if len(w.order) < w.size {
		w.order = append(w.order, seq)
	} else {
		delete(w.seen, w.order[w.next])
		w.order[w.next] = seq
		w.next = (w.next + 1) % w.size
	}
	w.seen[seq] = struct{}{}
	return true
}
