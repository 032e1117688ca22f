package transfer

// Classify derives the discrepancy type for one entry bill item from its
// expected and received quantities.
func Classify(expected, received int64) DiscrepancyType {
	switch {
	case received == 0 && expected > 0:
		return DiscrepancyMissing
	case received > 0 && expected == 0:
		return DiscrepancyExtra
	case received != expected:
		return DiscrepancyMismatch
	default:
		return DiscrepancyNone
	}
}

// DiscrepancySummary is a read-only projection over an entry bill's items,
// recomputed on demand so it can never drift from stored item state.
type DiscrepancySummary struct {
	MissingCount  int
	MismatchCount int
	ExtraCount    int
	Missing       []BillItem
	Mismatched    []BillItem
	Extra         []BillItem
}

// Clean reports whether no discrepancy was found.
func (s DiscrepancySummary) Clean() bool {
	return s.MissingCount == 0 && s.MismatchCount == 0 && s.ExtraCount == 0
}

// Summarize buckets verified items by discrepancy type. Items without a
// recorded receipt are skipped; the summary is only meaningful after
// verification.
func Summarize(items []BillItem) DiscrepancySummary {
	var summary DiscrepancySummary
	for _, item := range items {
		if item.Received == nil {
			continue
		}
		switch Classify(item.Quantity, item.ReceivedQuantity()) {
		case DiscrepancyMissing:
			summary.MissingCount++
			summary.Missing = append(summary.Missing, item)
		case DiscrepancyMismatch:
			summary.MismatchCount++
			summary.Mismatched = append(summary.Mismatched, item)
		case DiscrepancyExtra:
			summary.ExtraCount++
			summary.Extra = append(summary.Extra, item)
		}
	}
	return summary
}
