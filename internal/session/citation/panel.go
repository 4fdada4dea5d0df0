package citation

import (
	"sort"
	"sync"

	"github.com/tinge-app/tinge/internal/domain/models"
)

// Panel is the Source Panel's data contract: the set of sources actually
// cited so far, keyed by display index. The panel never assigns indexes.
type Panel struct {
	mu      sync.Mutex
	byIndex map[int]models.RegisteredSource
}

func NewPanel() *Panel {
	return &Panel{byIndex: make(map[int]models.RegisteredSource)}
}

// Add records sources used by a committed turn. Re-adding an index is a
// no-op, so the panel never grows on re-citation.
func (p *Panel) Add(used []models.RegisteredSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range used {
		p.byIndex[s.DisplayIndex] = s
	}
}

// Knows reports whether the panel displays the given index.
func (p *Panel) Knows(displayIndex int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byIndex[displayIndex]
	return ok
}

// Sources returns the displayed sources sorted by display index.
func (p *Panel) Sources() []models.RegisteredSource {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.RegisteredSource, 0, len(p.byIndex))
	for _, s := range p.byIndex {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayIndex < out[j].DisplayIndex })
	return out
}

// Len returns the number of displayed sources.
func (p *Panel) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byIndex)
}
