package packer

import (
	"sort"

	"github.com/deepresearch/orchestrator/internal/jobs"
)

// Order returns notes sorted by (importance desc, token_count desc), the
// fixed ordering the packer selects from and section drafting reads from.
// The sort is stable so ties preserve input (creation) order.
func Order(notes []jobs.Note) []jobs.Note {
	out := make([]jobs.Note, len(notes))
	copy(out, notes)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].TokenCount > out[j].TokenCount
	})
	return out
}

// Pack selects an ordered subset of notes whose total token_count stays
// within budget and whose length stays within cap, scanning ordered notes
// greedily: a note that would overflow the remaining budget is skipped,
// not treated as a stopping point. Output order matches selection order.
func Pack(notes []jobs.Note, budget, cap int) []jobs.Note {
	ordered := Order(notes)

	out := make([]jobs.Note, 0, cap)
	remaining := budget
	for _, n := range ordered {
		if len(out) >= cap {
			break
		}
		if n.TokenCount > remaining {
			continue
		}
		out = append(out, n)
		remaining -= n.TokenCount
	}
	return out
}
