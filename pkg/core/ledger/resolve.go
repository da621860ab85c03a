package ledger

import (
	"strings"

	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

// Resolve maps a loose reference to a single deduction. An exact,
// case-insensitive id match wins; otherwise the first entry in ledger order
// (newest first) whose title contains ref is returned.
func Resolve(ref string, entries []types.Deduction) (types.Deduction, bool) {
	i := resolveIndex(ref, len(entries), func(i int) (string, string) {
		return entries[i].ID, entries[i].Title
	})
	if i < 0 {
		return types.Deduction{}, false
	}
	return entries[i], true
}

// resolveIndex is shared by Resolve and the ledger, which resolves against
// its internal order without copying entries.
func resolveIndex(ref string, n int, at func(int) (id, title string)) int {
	needle := strings.ToLower(strings.TrimSpace(ref))
	if needle == "" {
		return -1
	}
	for i := 0; i < n; i++ {
		id, _ := at(i)
		if strings.ToLower(id) == needle {
			return i
		}
	}
	for i := 0; i < n; i++ {
		_, title := at(i)
		if strings.Contains(strings.ToLower(title), needle) {
			return i
		}
	}
	return -1
}
