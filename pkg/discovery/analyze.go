package discovery

import (
	"fmt"
	"time"
)

// StubAnalyzer is the placeholder per-layer analysis step. It computes
// summary counts over the layer's collections and nothing else, but it holds
// the Analyzer seam: a real analysis engine replaces it without touching the
// orchestrator.
type StubAnalyzer struct{}

// NewStubAnalyzer creates the placeholder analyzer.
func NewStubAnalyzer() *StubAnalyzer {
	return &StubAnalyzer{}
}

// Analyze summarizes the layer's collected data. Pure computation over
// already-collected collections; it performs no outbound calls.
func (*StubAnalyzer) Analyze(layerID string, collections []*Collection) (*AnalysisResult, error) {
	count := 0
	partial := false
	for _, c := range collections {
		if c == nil {
			continue
		}
		count += len(c.Resources)
		if c.Partial {
			partial = true
		}
	}

	summary := fmt.Sprintf("%d resources analyzed", count)
	if partial {
		summary += " (collection was partial)"
	}

	return &AnalysisResult{
		LayerID:       layerID,
		Status:        "completed",
		Summary:       summary,
		ResourceCount: count,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}
