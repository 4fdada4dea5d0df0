package citation

import (
	"sort"
	"strconv"
	"strings"

	"github.com/tinge-app/tinge/internal/domain/models"
)

// TelemetryState reflects the current retrieval round-trip for the UI.
type TelemetryState string

const (
	TelemetryIdle    TelemetryState = "idle"
	TelemetryLoading TelemetryState = "loading"
	TelemetryReady   TelemetryState = "ready"
)

// Coordinator owns the per-assistant-turn citation scratch state. It holds a
// non-owning reference to the panel's lookup API; the panel never points
// back.
type Coordinator struct {
	registry *Registry
	panel    *Panel

	pendingRetrieved   map[int]models.Source
	pendingLocalGlobal map[int]int
	pendingProvisional map[string]int
	provisionalNext    int

	streamBuf strings.Builder
	telemetry TelemetryState
}

func NewCoordinator(registry *Registry, panel *Panel) *Coordinator {
	c := &Coordinator{registry: registry, panel: panel, telemetry: TelemetryIdle}
	c.clearTurn()
	return c
}

func (c *Coordinator) clearTurn() {
	c.pendingRetrieved = make(map[int]models.Source)
	c.pendingLocalGlobal = make(map[int]int)
	c.pendingProvisional = make(map[string]int)
	c.provisionalNext = c.registry.NextIndex()
	c.streamBuf.Reset()
}

// Telemetry returns the current retrieval state.
func (c *Coordinator) Telemetry() TelemetryState { return c.telemetry }

// ToolSearchStarted clears the turn scratch when a new retrieval begins.
func (c *Coordinator) ToolSearchStarted() {
	c.clearTurn()
	c.telemetry = TelemetryLoading
}

// ToolSearchResult indexes the retrieved sources by their upstream
// citation_index and resolves each to a global index: registered sources
// reuse their existing index, new ones get provisional indexes seeded from
// the registry.
func (c *Coordinator) ToolSearchResult(results []models.Source) {
	for _, src := range results {
		local := src.CitationIndex
		if local <= 0 {
			continue
		}
		c.pendingRetrieved[local] = src

		if e, ok := c.registry.Existing(src); ok {
			c.pendingLocalGlobal[local] = e.DisplayIndex
			continue
		}
		key := src.Key()
		prov, ok := c.pendingProvisional[key]
		if !ok {
			prov = c.provisionalNext
			c.provisionalNext++
			c.pendingProvisional[key] = prov
		}
		c.pendingLocalGlobal[local] = prov
	}
	c.telemetry = TelemetryReady
}

// StreamingDelta appends to the turn's transcript buffer and returns the
// buffer-to-date with all known markers remapped.
func (c *Coordinator) StreamingDelta(delta string) string {
	c.streamBuf.WriteString(delta)
	return Remap(c.streamBuf.String(), c.pendingLocalGlobal)
}

// FinalTranscript commits the turn: cited sources are realized in the
// registry in order of first appearance, markers rewrite to their final
// global indexes, and the panel receives the used sources. When the text
// has no markers but the turn retrieved sources, panel-known global
// indexes are appended as a fallback. Turn scratch resets either way.
func (c *Coordinator) FinalTranscript(text string) string {
	defer func() {
		c.clearTurn()
		c.telemetry = TelemetryIdle
	}()

	locals := LocalIndexes(text)
	if len(locals) == 0 {
		return c.fallbackAppend(text)
	}

	final := make(map[int]int, len(locals))
	var used []models.RegisteredSource
	for _, local := range locals {
		src, ok := c.pendingRetrieved[local]
		if !ok {
			continue
		}
		e := c.registry.GetOrAssign(src)
		final[local] = e.DisplayIndex
		used = append(used, e)
	}

	if len(used) > 0 {
		sort.Slice(used, func(i, j int) bool { return used[i].DisplayIndex < used[j].DisplayIndex })
		c.panel.Add(used)
	}
	return remapAll(text, final)
}

// fallbackAppend adds [i] suffixes for the turn's resolved global indexes
// when the model cited nothing explicitly. Only indexes the panel already
// displays are appended.
func (c *Coordinator) fallbackAppend(text string) string {
	if len(c.pendingLocalGlobal) == 0 {
		return text
	}

	globals := make([]int, 0, len(c.pendingLocalGlobal))
	seen := make(map[int]bool)
	for _, g := range c.pendingLocalGlobal {
		if !seen[g] && c.panel.Knows(g) {
			seen[g] = true
			globals = append(globals, g)
		}
	}
	if len(globals) == 0 {
		return text
	}
	sort.Ints(globals)

	var b strings.Builder
	b.WriteString(text)
	for _, g := range globals {
		b.WriteString(" [")
		b.WriteString(strconv.Itoa(g))
		b.WriteString("]")
	}
	return b.String()
}
