package batching

import "genqueue/internal/domain"

// Recommendation is the verdict of a cost-benefit analysis.
type Recommendation string

const (
	ProcessAsBatch      Recommendation = "process_as_batch"
	ConsiderBatch       Recommendation = "consider_batch"
	ProcessIndividually Recommendation = "process_individually"
)

// Discount model: each extra member amortizes perItemDiscount of the summed
// cost, capped at maxDiscount, scaled by how homogeneous the batch is.
const (
	perItemDiscount = 0.05
	maxDiscount     = 0.4

	batchBenefitFloor    = 0.15
	considerBenefitFloor = 0.05
)

// CostBenefit compares running a batch against running its members alone.
type CostBenefit struct {
	IndividualCost float64        `json:"individual_cost"`
	BatchCost      float64        `json:"batch_cost"`
	BenefitRatio   float64        `json:"benefit_ratio"`
	Recommendation Recommendation `json:"recommendation"`
}

// CostBenefitAnalysis prices b under the batch discount model.
func CostBenefitAnalysis(b domain.Batch) CostBenefit {
	individual := b.TotalCost()
	discount := min(perItemDiscount*float64(max(b.Size()-1, 0)), maxDiscount) * b.Similarity
	batchCost := individual * (1 - discount)

	var ratio float64
	if individual > 0 {
		ratio = (individual - batchCost) / individual
	}
	rec := ProcessIndividually
	switch {
	case ratio >= batchBenefitFloor:
		rec = ProcessAsBatch
	case ratio >= considerBenefitFloor:
		rec = ConsiderBatch
	}
	return CostBenefit{
		IndividualCost: individual,
		BatchCost:      batchCost,
		BenefitRatio:   ratio,
		Recommendation: rec,
	}
}
