package discovery

import (
	"context"
	"sort"
)

// lastOrderBase maps negative advisor orders after every non-negative one
// while preserving their relative position from the end.
const lastOrderBase = 999

type (
	// EdgeContext exposes the partial field assignment accumulated along one
	// path of the advice tree. Advisors consult it for fields advised or
	// supplied earlier in the traversal.
	EdgeContext struct {
		get func(field string) (any, bool)
	}

	// AdviseFunc computes the constraint for a field given the path context.
	AdviseFunc func(ctx context.Context, ec *EdgeContext) (AdvisedValue, error)

	// FieldAdvisor advises one field of an adapter's parameters. Order
	// controls traversal position: non-negative orders sort first ascending,
	// negative orders come after, counted from the end (-1 is last).
	FieldAdvisor struct {
		Field  string
		Order  int
		Advise AdviseFunc
	}
)

// Get returns the value of a field resolved along the current path.
func (ec *EdgeContext) Get(field string) (any, bool) {
	return ec.get(field)
}

// sortAdvisors returns the advisors in traversal order. The sort is stable,
// so advisors with equal order keep their declaration order.
func sortAdvisors(advisors []FieldAdvisor) []FieldAdvisor {
	sorted := make([]FieldAdvisor, len(advisors))
	copy(sorted, advisors)
	key := func(a FieldAdvisor) int {
		if a.Order < 0 {
			return lastOrderBase + a.Order + 1
		}
		return a.Order
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return key(sorted[i]) < key(sorted[j])
	})
	return sorted
}
