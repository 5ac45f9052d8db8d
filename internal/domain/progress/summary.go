package progress

import (
	"github.com/beltline/progression-engine/internal/domain/curriculum"
)

// StepSummary aggregates a participant's records against one step.
type StepSummary struct {
	StepID curriculum.StepID `json:"step_id"`

	TotalItems    int `json:"total_items"`
	DoneItems     int `json:"done_items"`
	RequiredItems int `json:"required_items"`
	RequiredDone  int `json:"required_done"`
	CertsDone     int `json:"certs_done"`
	DonePoints    int `json:"done_points"`
	PendingItems  int `json:"pending_items"`
}

// Summarize folds records onto the step's items. Records for items that are
// not part of items are ignored.
func Summarize(stepID curriculum.StepID, items []curriculum.Item, records []*Record) StepSummary {
	byItem := make(map[curriculum.ItemID]*Record, len(records))
	for _, r := range records {
		byItem[r.ItemID] = r
	}

	s := StepSummary{StepID: stepID, TotalItems: len(items)}
	for _, it := range items {
		if it.Required {
			s.RequiredItems++
		}
		rec := byItem[it.ID]
		switch rec.Status() {
		case StatusDone:
			s.DoneItems++
			s.DonePoints += it.Points
			if it.Required {
				s.RequiredDone++
			}
			if it.Type == curriculum.TypeCert {
				s.CertsDone++
			}
		case StatusPendingReview:
			s.PendingItems++
		}
	}
	return s
}

// CompletionRate is done/total over all items of the step, required or
// not. An empty step has rate 0.
func (s StepSummary) CompletionRate() float64 {
	if s.TotalItems == 0 {
		return 0
	}
	return float64(s.DoneItems) / float64(s.TotalItems)
}

// RequiredComplete reports whether every required item is done.
func (s StepSummary) RequiredComplete() bool {
	return s.RequiredDone == s.RequiredItems
}
