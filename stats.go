// Stats exposes a diagnostic snapshot of a WAL's memory/backend usage,
// serializable via goccy/go-json the way folio's diagnostics endpoint
// does (folio/history.go).
package orderwal

import (
	"github.com/goccy/go-json"
)

// Stats is a point-in-time snapshot of a WAL's size and backend.
type Stats struct {
	Entries        int    `json:"entries"`
	RangeOverlays  int    `json:"range_overlays"`
	MinimumVersion uint64 `json:"minimum_version,omitempty"`
	MaximumVersion uint64 `json:"maximum_version,omitempty"`
	Capacity       uint32 `json:"capacity"`
	Remaining      uint32 `json:"remaining"`
	Backend        string `json:"backend"`
	Path           string `json:"path,omitempty"`
}

// Stats returns a snapshot of w's current state.
func (w *WAL) Stats() Stats {
	s := Stats{
		Entries:       w.index.Len(),
		RangeOverlays: w.index.RangeOverlayCount(),
		Capacity:      w.arena.Capacity(),
		Remaining:     w.arena.Remaining(),
		Backend:       w.arena.Backend().String(),
		Path:          w.arena.Path(),
	}
	if w.options.Kind == KindVersioned {
		s.MinimumVersion = w.index.MinimumVersion()
		s.MaximumVersion = w.index.MaximumVersion()
	}
	return s
}

// DumpJSON marshals s for diagnostics/logging sinks.
func (s *Stats) DumpJSON() ([]byte, error) {
	return json.Marshal(s)
}
