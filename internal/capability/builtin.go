package capability

import (
	"context"
	"fmt"
	"strings"
)

// Builtin capability names. The handlers registered here are deterministic
// stand-ins for the external analysis collaborators; production deployments
// re-register these names with real implementations.
const (
	NameIsotopeClassify = "isotope_classify"
	NameRenderChart     = "render_chart"
	NameComposeReport   = "compose_report"
	NameKnowledgeLookup = "knowledge_lookup"
	NameSpectrumParse   = "spectrum_parse"
)

// RegisterBuiltins installs the builtin capability catalog.
func RegisterBuiltins(r *Registry) error {
	builtins := []*Capability{
		{
			Name:        NameIsotopeClassify,
			Type:        TypeAnalysis,
			Description: "Classify isotopes present in a spectrum and estimate activity",
			Examples:    []string{"classify the isotopes in sample 42", "what nuclides are present"},
			Params: []Param{
				{Name: "query", Type: "string", Required: true, Description: "analysis request text"},
				{Name: "file_id", Type: "string", Required: false, Description: "spectrum file to analyze"},
			},
			RetrySafe: true,
			Handler:   classifyHandler,
		},
		{
			Name:        NameRenderChart,
			Type:        TypeVisualization,
			Description: "Render a chart of spectrum data or analysis results",
			Examples:    []string{"plot the energy spectrum", "draw the peak chart"},
			Params: []Param{
				{Name: "query", Type: "string", Required: true},
			},
			RetrySafe: true,
			Handler:   chartHandler,
		},
		{
			Name:        NameComposeReport,
			Type:        TypeTask,
			Description: "Compose a report section summarizing analysis results",
			Examples:    []string{"write the findings section", "summarize the analysis"},
			Params: []Param{
				{Name: "query", Type: "string", Required: true},
			},
			// Report composition appends to the session artifact set, so it
			// is never retried automatically.
			RetrySafe: false,
			Handler:   reportHandler,
		},
		{
			Name:        NameKnowledgeLookup,
			Type:        TypeTool,
			Description: "Look up reference knowledge about nuclides, detectors, and methods",
			Examples:    []string{"half-life of Cs-137", "what is a HPGe detector"},
			Params: []Param{
				{Name: "query", Type: "string", Required: true},
			},
			RetrySafe: true,
			Handler:   lookupHandler,
		},
		{
			Name:        NameSpectrumParse,
			Type:        TypeDataProcessing,
			Description: "Parse an uploaded spectrum file into calibrated channel data",
			Examples:    []string{"load the uploaded .spe file"},
			Params: []Param{
				{Name: "file_id", Type: "string", Required: true},
			},
			RetrySafe: true,
			Handler:   parseHandler,
		},
	}

	for _, c := range builtins {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func classifyHandler(_ context.Context, params map[string]any) (any, error) {
	query := paramString(params, "query")
	return map[string]any{
		"summary":    fmt.Sprintf("classification completed for request: %s", query),
		"candidates": []string{"Cs-137", "Co-60", "K-40"},
		"confidence": 0.9,
	}, nil
}

func chartHandler(_ context.Context, params map[string]any) (any, error) {
	return fmt.Sprintf("chart rendered for: %s", paramString(params, "query")), nil
}

func reportHandler(_ context.Context, params map[string]any) (any, error) {
	query := paramString(params, "query")
	return fmt.Sprintf("Report section: analysis of %q completed; see attached results.", query), nil
}

func lookupHandler(_ context.Context, params map[string]any) (any, error) {
	query := strings.ToLower(paramString(params, "query"))
	if strings.Contains(query, "cs-137") {
		return "Cs-137: half-life 30.08 years, principal gamma line 661.7 keV.", nil
	}
	return fmt.Sprintf("no curated reference entry for %q", query), nil
}

func parseHandler(_ context.Context, params map[string]any) (any, error) {
	fileID := paramString(params, "file_id")
	if fileID == "" {
		return nil, fmt.Errorf("spectrum_parse: file_id is empty")
	}
	return map[string]any{"file_id": fileID, "channels": 4096, "calibrated": true}, nil
}
