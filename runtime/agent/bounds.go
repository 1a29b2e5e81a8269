package agent

// Bounds describes how a tool result has been capped relative to the full
// underlying data set it was drawn from. io, and any future tool that caps
// a line count, entry count, or match count, reports one of these instead
// of leaving truncation as an undocumented side effect of its arguments.
//
// Returned reports how many items or lines are present in the capped view.
// Total, when non-nil, reports the best-effort count before capping.
// Truncated indicates whether the cap actually removed anything.
// RefinementHint provides short, human-readable guidance on how to narrow or
// widen the request when Truncated is true.
type Bounds struct {
	Returned       int
	Total          *int
	Truncated      bool
	RefinementHint string
}
