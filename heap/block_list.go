package heap

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/regvm/vmheap/memutils"
	"github.com/regvm/vmheap/memutils/metadata"
	"golang.org/x/exp/slices"
)

// sizeClasses are the slot sizes, in words including the header, that slab pages are divided into
var sizeClasses = []int{2, 3, 4, 5, 6, 8, 10, 12, 16, 20, 24, 32, 40, 48, 64, 80, 96, 128, 170, 256, 341, 512}

// sizeClassFor returns the index of the smallest size class that can hold slotWords
func sizeClassFor(slotWords int) int {
	index, _ := slices.BinarySearch(sizeClasses, slotWords)
	return index
}

// pageList is the set of slab pages of a single region and size class
type pageList struct {
	kind      RegionKind
	slotWords int
	pages     []*span
	// cursor is the index of the page the last allocation succeeded in
	cursor int
}

func (l *pageList) Init(kind RegionKind, slotWords int) {
	l.kind = kind
	l.slotWords = slotWords
}

func (l *pageList) PageCount() int { return len(l.pages) }

// allocate finds room for one slot in an existing page. It returns false if every page is full.
func (l *pageList) allocate() (*span, int, bool, error) {
	slotBytes := l.slotWords * 8
	for i := 0; i < len(l.pages); i++ {
		index := (l.cursor + i) % len(l.pages)
		page := l.pages[index]
		if !page.slab.MayHaveFreeBlock(slotBytes) {
			continue
		}

		success, request, err := page.slab.CreateAllocationRequest(slotBytes, 8)
		if err != nil {
			return nil, 0, false, err
		}
		if !success {
			continue
		}

		if err = page.slab.Alloc(request); err != nil {
			return nil, 0, false, err
		}

		l.cursor = index
		return page, request.Offset, true, nil
	}

	return nil, 0, false, nil
}

func (l *pageList) add(page *span) {
	l.pages = append(l.pages, page)
	l.cursor = len(l.pages) - 1
}

func (l *pageList) remove(page *span) {
	index := slices.Index(l.pages, page)
	if index < 0 {
		return
	}
	l.pages = slices.Delete(l.pages, index, index+1)
	if l.cursor >= len(l.pages) {
		l.cursor = 0
	}
}

// takeAll empties the list and returns its pages
func (l *pageList) takeAll() []*span {
	pages := l.pages
	l.pages = nil
	l.cursor = 0
	return pages
}

func (l *pageList) AddStatistics(stats *memutils.Statistics) {
	for _, page := range l.pages {
		page.slab.AddStatistics(stats)
	}
}

func (l *pageList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, page := range l.pages {
		page.slab.AddDetailedStatistics(stats)
	}
}

func (l *pageList) PrintDetailedMap(json jwriter.ObjectState) {
	for _, page := range l.pages {
		pageObj := json.Name(page.base.String()).Object()
		page.slab.BlockJsonData(pageObj)
		pageObj.Name("Target").Bool(page.target.Load())
		pageObj.End()
	}
}

// regionPool holds one pageList per size class for a slab region
type regionPool struct {
	kind  RegionKind
	lists []pageList
}

func (p *regionPool) Init(kind RegionKind) {
	p.kind = kind
	p.lists = make([]pageList, len(sizeClasses))
	for i := range p.lists {
		p.lists[i].Init(kind, sizeClasses[i])
	}
}

func (p *regionPool) list(slotWords int) *pageList {
	return &p.lists[sizeClassFor(slotWords)]
}

func (p *regionPool) PageCount() int {
	count := 0
	for i := range p.lists {
		count += p.lists[i].PageCount()
	}
	return count
}

func (p *regionPool) Pages() []*span {
	var pages []*span
	for i := range p.lists {
		pages = append(pages, p.lists[i].pages...)
	}
	return pages
}

func (p *regionPool) AddStatistics(stats *memutils.Statistics) {
	for i := range p.lists {
		p.lists[i].AddStatistics(stats)
	}
}

func (p *regionPool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for i := range p.lists {
		p.lists[i].AddDetailedStatistics(stats)
	}
}

func (p *regionPool) PrintDetailedMap(json jwriter.ObjectState) {
	obj := json.Name(p.kind.String()).Object()
	defer obj.End()

	for i := range p.lists {
		if p.lists[i].PageCount() == 0 {
			continue
		}
		classObj := obj.Name(strconv.Itoa(p.lists[i].slotWords * 8)).Object()
		p.lists[i].PrintDetailedMap(classObj)
		classObj.End()
	}
}

// newSlabMetadata prepares the slot bookkeeping for a freshly mapped page
func newSlabMetadata(page *span, slotWords int) *metadata.SlabBlockMetadata {
	md := metadata.NewSlabBlockMetadata(slotWords*8, page)
	md.Init(PageSize)
	return md
}
