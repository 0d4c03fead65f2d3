package spreadsheet

// SpreadingRelation tracks which array formulas spread onto which
// positions. several formulas may claim the same position; deciding which
// one actually occupies it is up to the evaluator.
type SpreadingRelation struct {
	resultsToArrayFormulas map[PositionID]PositionSet // result -> anchors spreading on it
	arrayFormulasToResults map[PositionID]PositionSet // anchor -> results it spreads on
}

// NewSpreadingRelation creates an empty relation
func NewSpreadingRelation() *SpreadingRelation {
	return &SpreadingRelation{
		resultsToArrayFormulas: make(map[PositionID]PositionSet),
		arrayFormulasToResults: make(map[PositionID]PositionSet),
	}
}

// AddRelation records that anchor spreads onto result
func (sr *SpreadingRelation) AddRelation(anchor, result PositionID) {
	if sr.resultsToArrayFormulas[result] == nil {
		sr.resultsToArrayFormulas[result] = NewPositionSet()
	}
	sr.resultsToArrayFormulas[result].Add(anchor)

	if sr.arrayFormulasToResults[anchor] == nil {
		sr.arrayFormulasToResults[anchor] = NewPositionSet()
	}
	sr.arrayFormulasToResults[anchor].Add(result)
}

// ArrayFormulasSpreadingOn returns the anchors claiming result, sorted
func (sr *SpreadingRelation) ArrayFormulasSpreadingOn(result PositionID) []PositionID {
	anchors, exists := sr.resultsToArrayFormulas[result]
	if !exists {
		return nil
	}
	return anchors.Sorted()
}

// ResultsOf returns the positions anchor spreads onto, sorted
func (sr *SpreadingRelation) ResultsOf(anchor PositionID) []PositionID {
	results, exists := sr.arrayFormulasToResults[anchor]
	if !exists {
		return nil
	}
	return results.Sorted()
}

// IsArrayFormula reports whether anchor spreads onto anything
func (sr *SpreadingRelation) IsArrayFormula(anchor PositionID) bool {
	return len(sr.arrayFormulasToResults[anchor]) > 0
}

// HasResult reports whether any formula spreads onto p
func (sr *SpreadingRelation) HasResult(p PositionID) bool {
	return len(sr.resultsToArrayFormulas[p]) > 0
}

// RemoveArrayFormula forgets every position anchor spreads onto
func (sr *SpreadingRelation) RemoveArrayFormula(anchor PositionID) {
	for result := range sr.arrayFormulasToResults[anchor] {
		anchors := sr.resultsToArrayFormulas[result]
		anchors.Delete(anchor)
		if len(anchors) == 0 {
			delete(sr.resultsToArrayFormulas, result)
		}
	}
	delete(sr.arrayFormulasToResults, anchor)
}

// Clear removes every relation
func (sr *SpreadingRelation) Clear() {
	sr.resultsToArrayFormulas = make(map[PositionID]PositionSet)
	sr.arrayFormulasToResults = make(map[PositionID]PositionSet)
}
