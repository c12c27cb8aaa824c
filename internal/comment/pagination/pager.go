// Package pagination keeps an offset/limit window over a total count.
package pagination

const (
	ThreadPageSize = 100
	LatestPageSize = 10
)

// Pager is not safe for concurrent use; the widget guards it.
type Pager struct {
	offset int
	total  int
	size   int
}

func NewPager(size int) *Pager {
	if size <= 0 {
		size = ThreadPageSize
	}
	return &Pager{size: size}
}

func (p *Pager) Offset() int   { return p.offset }
func (p *Pager) Total() int    { return p.total }
func (p *Pager) PageSize() int { return p.size }

func (p *Pager) SetTotal(total int) {
	if total < 0 {
		total = 0
	}
	p.total = total
}

// SetOffset jumps to offset, e.g. one taken from a request.
func (p *Pager) SetOffset(offset int) {
	p.offset = max(0, offset)
}

// Reset moves back to the first page, e.g. after a circle change.
func (p *Pager) Reset() {
	p.offset = 0
}

func (p *Pager) HasPrevious() bool {
	if p.total == 0 {
		return false
	}
	return p.offset > 0
}

func (p *Pager) HasNext() bool {
	if p.total == 0 {
		return false
	}
	return p.offset+p.size < p.total-1
}

// Previous moves one page back and returns the new offset.
func (p *Pager) Previous() int {
	p.offset = max(0, p.offset-p.size)
	return p.offset
}

// Next moves one page forward, never past the last item.
func (p *Pager) Next() int {
	p.offset = max(0, min(p.offset+p.size, p.total-1))
	return p.offset
}
