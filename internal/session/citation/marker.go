package citation

import (
	"regexp"
	"strconv"
)

// markerPattern matches the three citation marker forms the assistant
// produces: [n], (n), and "source #n" / "fuente #n" (case-insensitive).
var markerPattern = regexp.MustCompile(`(?i)\[(\d+)\]|\((\d+)\)|(?:source|fuente)\s*#(\d+)`)

func markerIndex(match []string) int {
	for _, g := range match[1:] {
		if g != "" {
			n, _ := strconv.Atoi(g)
			return n
		}
	}
	return 0
}

// Remap rewrites every recognized marker whose local index has a mapping to
// the bracketed global form [g]. Unmapped markers are left unchanged, as are
// indexes that already appear as mapped globals, which makes the rewrite
// idempotent.
func Remap(text string, localToGlobal map[int]int) string {
	if len(localToGlobal) == 0 {
		return text
	}

	globals := make(map[int]bool, len(localToGlobal))
	for _, g := range localToGlobal {
		globals[g] = true
	}

	return markerPattern.ReplaceAllStringFunc(text, func(m string) string {
		idx := markerIndex(markerPattern.FindStringSubmatch(m))
		if globals[idx] {
			return m
		}
		g, ok := localToGlobal[idx]
		if !ok {
			return m
		}
		return "[" + strconv.Itoa(g) + "]"
	})
}

// remapAll rewrites every mapped marker, including local indexes that happen
// to equal another mapping's global value. A single pass over the original
// text visits each marker exactly once, so rewrites cannot cascade. Used at
// commit time, when the mapping is complete and the text will not be remapped
// again.
func remapAll(text string, localToGlobal map[int]int) string {
	if len(localToGlobal) == 0 {
		return text
	}
	return markerPattern.ReplaceAllStringFunc(text, func(m string) string {
		g, ok := localToGlobal[markerIndex(markerPattern.FindStringSubmatch(m))]
		if !ok {
			return m
		}
		return "[" + strconv.Itoa(g) + "]"
	})
}

// LocalIndexes returns the distinct marker indexes in order of first
// appearance.
func LocalIndexes(text string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, match := range markerPattern.FindAllStringSubmatch(text, -1) {
		idx := markerIndex(match)
		if idx > 0 && !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

// HasMarker reports whether the text contains any recognizable marker.
func HasMarker(text string) bool {
	return markerPattern.MatchString(text)
}
