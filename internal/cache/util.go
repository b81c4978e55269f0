package cache

import (
	"fmt"
	"sort"
	"strings"
)

// formatUIDSet renders a sorted UID slice as an IMAP sequence set,
// collapsing consecutive runs into "low:high" ranges (e.g. "7,9:12,20").
// Used to build the NOT UID clause for Validator rule 9c.
func formatUIDSet(uids []uint32) string {
	if len(uids) == 0 {
		return ""
	}
	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var parts []string
	start := sorted[0]
	prev := sorted[0]
	flush := func(end uint32) {
		if start == end {
			parts = append(parts, fmt.Sprintf("%d", start))
		} else {
			parts = append(parts, fmt.Sprintf("%d:%d", start, end))
		}
	}
	for _, u := range sorted[1:] {
		if u == prev+1 {
			prev = u
			continue
		}
		flush(prev)
		start = u
		prev = u
	}
	flush(prev)
	return strings.Join(parts, ",")
}
