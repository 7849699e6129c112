package sandbox

import "github.com/cealn-go/cealn/depmap"

// LowerDirOrder computes the overlayfs lowerdir stacking order for root's
// transitive depmap references. Resolved Open Question (a): a bottom-up
// DFS post-order over the sysroot's reference graph, de-duplicating
// repeats (prevents ELOOP on diamond-shaped sysroots) — a depmap merged
// later in the builder's insertion order ends up *earlier* in the
// returned slice, which overlayfs's lowerdir list treats as "shadows
// everything after it", matching the intuitive rule that a later mount
// wins.
//
// The returned order is handed to the mount(8) overlayfs lowerdir=...
// option as-is (first entry first, colon-separated).
func LowerDirOrder(root *depmap.Depmap) []*depmap.Depmap {
	visited := map[*depmap.Depmap]bool{}
	var order []*depmap.Depmap

	var visit func(d *depmap.Depmap)
	visit = func(d *depmap.Depmap) {
		if visited[d] {
			return
		}
		visited[d] = true
		for _, child := range d.Children() {
			visit(child)
		}
		order = append(order, d)
	}
	visit(root)

	// Post-order DFS yields root-last; overlayfs wants the dominant
	// (root) entry first, so reverse.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}
