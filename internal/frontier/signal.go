package frontier

import "sync/atomic"

// EndSignal records the lowest listing page observed to be empty. Once set,
// every higher page is beyond the end of the listing.
type EndSignal struct {
	page atomic.Int64
}

// Mark records page as an end-of-listing observation. It keeps the lowest
// page seen and reports whether this call lowered it.
func (s *EndSignal) Mark(page int) bool {
	p := int64(page)
	for {
		cur := s.page.Load()
		if cur != 0 && cur <= p {
			return false
		}
		if s.page.CompareAndSwap(cur, p) {
			return true
		}
	}
}

// Done reports whether the end of the listing has been observed.
func (s *EndSignal) Done() bool {
	return s.page.Load() != 0
}

// Page returns the end page, or 0 when none was observed.
func (s *EndSignal) Page() int {
	return int(s.page.Load())
}

// Beyond reports whether page lies past the observed end of the listing.
func (s *EndSignal) Beyond(page int) bool {
	end := s.page.Load()
	return end != 0 && int64(page) > end
}
