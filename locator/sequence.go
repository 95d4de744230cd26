package locator

// Range is an inclusive span of account IDs. End < Start means empty.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Empty() bool {
	return r.End < r.Start
}

func (r Range) Len() int64 {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start + 1
}

// Sequence yields the IDs of a Range in ascending order, leaving out skipped IDs.
type Sequence struct {
	next int64
	end  int64
	skip map[int64]struct{}
}

func (r Range) Sequence(skip map[int64]struct{}) *Sequence {
	return &Sequence{next: r.Start, end: r.End, skip: skip}
}

// Next returns the next ID, or false once the range is exhausted.
func (s *Sequence) Next() (int64, bool) {
	for s.next <= s.end {
		id := s.next
		s.next++
		if _, skipped := s.skip[id]; skipped {
			continue
		}
		return id, true
	}
	return 0, false
}

// Batch returns up to n IDs.
func (s *Sequence) Batch(n int) []int64 {
	ids := make([]int64, 0, n)
	for len(ids) < n {
		id, ok := s.Next()
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	return ids
}
