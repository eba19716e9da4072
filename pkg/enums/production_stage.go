package enums

import "fmt"

// ProductionStage maps to the production_stage enum in Postgres.
type ProductionStage string

const (
	ProductionStageToProduce   ProductionStage = "TO_PRODUCE"
	ProductionStageWaxPressing ProductionStage = "WAX_PRESSING"
	ProductionStageWaxReady    ProductionStage = "WAX_READY"
	ProductionStageCasting     ProductionStage = "CASTING"
	ProductionStageBench       ProductionStage = "BENCH"
	ProductionStagePolishing   ProductionStage = "POLISHING"
	ProductionStagePackaging   ProductionStage = "PACKAGING"
	ProductionStageCompleted   ProductionStage = "COMPLETED"
)

// ProductionStages is the workshop pipeline in order. COMPLETED is terminal.
var ProductionStages = []ProductionStage{
	ProductionStageToProduce,
	ProductionStageWaxPressing,
	ProductionStageWaxReady,
	ProductionStageCasting,
	ProductionStageBench,
	ProductionStagePolishing,
	ProductionStagePackaging,
	ProductionStageCompleted,
}

// String implements fmt.Stringer.
func (s ProductionStage) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ProductionStage.
func (s ProductionStage) IsValid() bool {
	return s.Index() >= 0
}

// IsTerminal reports whether the stage ends the pipeline.
func (s ProductionStage) IsTerminal() bool {
	return s == ProductionStageCompleted
}

// Index returns the position of the stage in the pipeline, or -1.
func (s ProductionStage) Index() int {
	for i, candidate := range ProductionStages {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Next returns the following stage. ok is false for the terminal stage or unknown values.
func (s ProductionStage) Next() (ProductionStage, bool) {
	idx := s.Index()
	if idx < 0 || idx == len(ProductionStages)-1 {
		return "", false
	}
	return ProductionStages[idx+1], true
}

// Previous returns the preceding stage. ok is false for the first stage or unknown values.
func (s ProductionStage) Previous() (ProductionStage, bool) {
	idx := s.Index()
	if idx <= 0 {
		return "", false
	}
	return ProductionStages[idx-1], true
}

// ParseProductionStage converts raw input into ProductionStage.
func ParseProductionStage(value string) (ProductionStage, error) {
	for _, candidate := range ProductionStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid production stage %q", value)
}
