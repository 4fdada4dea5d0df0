package citation

import (
	"testing"

	"github.com/tinge-app/tinge/internal/domain/models"
)

func barcelona(title string) models.Source {
	return models.Source{
		Title:         title,
		URL:           "https://en.wikipedia.org/wiki/Barcelona",
		Source:        "wikipedia",
		Language:      "en",
		CitationIndex: 1,
	}
}

func TestRegistryAssignsStableIndexes(t *testing.T) {
	r := NewRegistry()

	first := r.GetOrAssign(barcelona("Barcelona"))
	if first.DisplayIndex != 1 {
		t.Errorf("first index = %d, want 1", first.DisplayIndex)
	}

	// Same document under a different casing collapses to the same key.
	again := r.GetOrAssign(models.Source{
		Title: "BARCELONA", URL: "HTTPS://EN.WIKIPEDIA.ORG/WIKI/Barcelona",
		Source: "Wikipedia", Language: "EN", CitationIndex: 3,
	})
	if again.DisplayIndex != 1 {
		t.Errorf("re-cite index = %d, want 1", again.DisplayIndex)
	}

	other := r.GetOrAssign(models.Source{Title: "Madrid", URL: "https://en.wikipedia.org/wiki/Madrid", Source: "wikipedia", Language: "en"})
	if other.DisplayIndex != 2 {
		t.Errorf("second source index = %d, want 2", other.DisplayIndex)
	}
	if r.NextIndex() != 3 {
		t.Errorf("next = %d, want 3", r.NextIndex())
	}
}

type memStore map[string][]byte

func (s memStore) Get(key string) ([]byte, bool) {
	v, ok := s[key]
	return v, ok
}
func (s memStore) Set(key string, value []byte) { s[key] = value }

func TestRegistryPersistence(t *testing.T) {
	store := memStore{}
	r := NewPersistentRegistry(store)
	r.GetOrAssign(barcelona("Barcelona"))
	r.GetOrAssign(models.Source{Title: "Madrid", URL: "https://en.wikipedia.org/wiki/Madrid", Source: "wikipedia", Language: "en"})

	if _, ok := store[PersistenceKey]; !ok {
		t.Fatal("registry state not persisted")
	}

	restored := NewPersistentRegistry(store)
	// The URL identifies the document; a reformatted title is still the same
	// source.
	e, ok := restored.Existing(barcelona("Barcelona - Wikipedia"))
	if !ok || e.DisplayIndex != 1 {
		t.Errorf("retitled entry = %+v, ok=%v, want index 1", e, ok)
	}
	e, ok = restored.Existing(barcelona("Barcelona"))
	if !ok || e.DisplayIndex != 1 {
		t.Errorf("restored entry = %+v, ok=%v", e, ok)
	}
	if restored.NextIndex() != 3 {
		t.Errorf("restored next = %d, want 3", restored.NextIndex())
	}
}

func TestRemapMarkerForms(t *testing.T) {
	m := map[int]int{1: 4, 2: 7}
	text := "See [1] and (2), also source #1 and Fuente #2."
	want := "See [4] and [7], also [4] and [7]."
	if got := Remap(text, m); got != want {
		t.Errorf("Remap = %q, want %q", got, want)
	}
}

func TestRemapLeavesUnmappedMarkers(t *testing.T) {
	if got := Remap("See [3].", map[int]int{1: 4}); got != "See [3]." {
		t.Errorf("got %q", got)
	}
	if got := Remap("See [1].", nil); got != "See [1]." {
		t.Errorf("empty map: got %q", got)
	}
}

func TestRemapIdempotent(t *testing.T) {
	maps := []map[int]int{
		{1: 4, 2: 7},
		{1: 1},
		{1: 2, 2: 5},
	}
	texts := []string{"x [1] (2) source #1", "[1][2][3]", "no markers"}
	for _, m := range maps {
		for _, text := range texts {
			once := Remap(text, m)
			twice := Remap(once, m)
			if once != twice {
				t.Errorf("map %v text %q: remap not idempotent: %q vs %q", m, text, once, twice)
			}
		}
	}
}

func TestRemapAllRewritesCollidingIndexes(t *testing.T) {
	// Local 2 collides with local 1's global value. The streaming Remap skips
	// it to stay idempotent; the commit rewrite must not.
	m := map[int]int{1: 2, 2: 5}
	if got := remapAll("See [1] and [2].", m); got != "See [2] and [5]." {
		t.Errorf("remapAll = %q, want %q", got, "See [2] and [5].")
	}
	if got := remapAll("See [3].", m); got != "See [3]." {
		t.Errorf("unmapped marker: got %q", got)
	}
}

func TestCoordinatorCommitResolvesIndexCollision(t *testing.T) {
	registry := NewRegistry()
	panel := NewPanel()
	c := NewCoordinator(registry, panel)

	// An earlier turn already realized two sources, so Barcelona holds global
	// index 2.
	c.ToolSearchStarted()
	c.ToolSearchResult([]models.Source{
		{Title: "Madrid", URL: "https://en.wikipedia.org/wiki/Madrid", Source: "wikipedia", Language: "en", CitationIndex: 1},
		{Title: "Barcelona", URL: "https://en.wikipedia.org/wiki/Barcelona", Source: "wikipedia", Language: "en", CitationIndex: 2},
	})
	c.FinalTranscript("Madrid [1] and Barcelona [2].")

	// This turn cites Barcelona as local 1 (global 2) and a new source as
	// local 2 (global 3). Local 2 equals Barcelona's global value; both
	// markers still land on their final indexes.
	c.ToolSearchStarted()
	c.ToolSearchResult([]models.Source{
		barcelona("Barcelona"),
		{Title: "Valencia", URL: "https://en.wikipedia.org/wiki/Valencia", Source: "wikipedia", Language: "en", CitationIndex: 2},
	})
	final := c.FinalTranscript("Compare [1] with [2].")
	if final != "Compare [2] with [3]." {
		t.Errorf("final = %q, want %q", final, "Compare [2] with [3].")
	}
	if panel.Len() != 3 {
		t.Errorf("panel has %d sources, want 3", panel.Len())
	}
}

func TestCoordinatorCommitAndStableReCitation(t *testing.T) {
	registry := NewRegistry()
	panel := NewPanel()
	c := NewCoordinator(registry, panel)

	// Turn 1.
	c.ToolSearchStarted()
	if c.Telemetry() != TelemetryLoading {
		t.Errorf("telemetry = %q", c.Telemetry())
	}
	c.ToolSearchResult([]models.Source{barcelona("Barcelona")})

	streamed := c.StreamingDelta("Barcelona is a city [1].")
	if streamed != "Barcelona is a city [1]." {
		t.Errorf("streamed = %q", streamed)
	}

	final := c.FinalTranscript("Barcelona is a city [1].")
	if final != "Barcelona is a city [1]." {
		t.Errorf("final = %q", final)
	}
	if panel.Len() != 1 {
		t.Fatalf("panel has %d sources", panel.Len())
	}

	// Turn 2: the search service returns the same URL under a reformatted
	// title. That is the same document, so the index and the panel entry are
	// reused.
	c.ToolSearchStarted()
	src := barcelona("Barcelona - Wikipedia")
	src.CitationIndex = 1
	c.ToolSearchResult([]models.Source{src})
	final = c.FinalTranscript("Its architecture [1].")
	if final != "Its architecture [1]." {
		t.Errorf("turn 2 final = %q", final)
	}
	if panel.Len() != 1 {
		t.Errorf("panel has %d entries, want exactly 1", panel.Len())
	}
}

func TestSourceKeyFallsBackWithoutURL(t *testing.T) {
	withURL := models.Source{Title: "Barcelona", URL: "https://en.wikipedia.org/wiki/Barcelona"}
	if withURL.Key() != "https://en.wikipedia.org/wiki/barcelona" {
		t.Errorf("key = %q", withURL.Key())
	}
	noURL := models.Source{Title: "Ser vs Estar", Source: "grammar-notes", Language: "es"}
	if noURL.Key() != "ser vs estar" {
		t.Errorf("key = %q", noURL.Key())
	}
	bare := models.Source{Source: "grammar-notes", Language: "es"}
	if bare.Key() != "grammar-notes" {
		t.Errorf("key = %q", bare.Key())
	}
}

func TestCoordinatorAssignsNewGlobalAcrossTurns(t *testing.T) {
	registry := NewRegistry()
	panel := NewPanel()
	c := NewCoordinator(registry, panel)

	c.ToolSearchStarted()
	c.ToolSearchResult([]models.Source{barcelona("Barcelona")})
	c.FinalTranscript("About Barcelona [1].")

	c.ToolSearchStarted()
	c.ToolSearchResult([]models.Source{{Title: "Madrid", URL: "https://en.wikipedia.org/wiki/Madrid", Source: "wikipedia", Language: "en", CitationIndex: 1}})
	final := c.FinalTranscript("About Madrid [1].")
	if final != "About Madrid [2]." {
		t.Errorf("final = %q", final)
	}
	if panel.Len() != 2 {
		t.Errorf("panel has %d sources", panel.Len())
	}
}

func TestFallbackAppendsOnlyPanelKnownIndexes(t *testing.T) {
	registry := NewRegistry()
	panel := NewPanel()
	c := NewCoordinator(registry, panel)

	// Realize Barcelona so the panel knows index 1.
	c.ToolSearchStarted()
	c.ToolSearchResult([]models.Source{barcelona("Barcelona")})
	c.FinalTranscript("Barcelona [1].")

	// Next turn retrieves Barcelona again plus a brand-new source, but the
	// model produces no markers. Only the panel-known index is appended.
	c.ToolSearchStarted()
	c.ToolSearchResult([]models.Source{
		barcelona("Barcelona"),
		{Title: "Madrid", URL: "https://en.wikipedia.org/wiki/Madrid", Source: "wikipedia", Language: "en", CitationIndex: 2},
	})
	final := c.FinalTranscript("A city on the Mediterranean coast.")
	if final != "A city on the Mediterranean coast. [1]" {
		t.Errorf("final = %q", final)
	}
}

func TestFallbackNoRetrievalLeavesTextAlone(t *testing.T) {
	c := NewCoordinator(NewRegistry(), NewPanel())
	c.ToolSearchStarted()
	final := c.FinalTranscript("Plain answer.")
	if final != "Plain answer." {
		t.Errorf("final = %q", final)
	}
}
