package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// moduleOrder topologically sorts the prerequisite graph of course,
// stable by declaration order. Any module left over sits on a cycle.
func moduleOrder(course *Course) ([]string, error) {
	deg := make(map[string]int, len(course.Modules))
	out := make(map[string][]string, len(course.Modules))
	for _, m := range course.Modules {
		deg[m.ID] = 0
	}
	for _, m := range course.Modules {
		for _, p := range uniq(m.Prerequisites) {
			deg[m.ID]++
			out[p] = append(out[p], m.ID)
		}
	}

	order := make([]string, 0, len(course.Modules))
	added := make(map[string]bool, len(course.Modules))
	for {
		progressed := false
		for _, m := range course.Modules {
			if added[m.ID] || deg[m.ID] != 0 {
				continue
			}
			added[m.ID] = true
			order = append(order, m.ID)
			for _, n := range out[m.ID] {
				deg[n]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}

	if len(order) != len(course.Modules) {
		var stuck []string
		for _, m := range course.Modules {
			if !added[m.ID] {
				stuck = append(stuck, m.ID)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("prerequisite cycle among modules %s", strings.Join(stuck, ", "))
	}
	return order, nil
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
