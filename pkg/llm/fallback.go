package llm

import (
	"context"
	"strings"

	"github.com/go-logr/logr"

	"github.com/mas-fro/core/pkg/hazard"
)

// ruleBasedAdapter classifies scout report text by keyword match and
// geocodes a small preloaded gazetteer, used when LLM_ENABLED is false or
// the Anthropic adapter degrades (spec §9).
type ruleBasedAdapter struct {
	log logr.Logger
}

func newRuleBasedAdapter(log logr.Logger) *ruleBasedAdapter {
	return &ruleBasedAdapter{log: log.WithName("llm_fallback")}
}

// classifyKeywords maps a ReportType to the keywords that imply it. Order
// matters: the first match wins, so more specific categories are checked
// before the generic "hazard" catch-all.
var classifyKeywords = []struct {
	keywords []string
	report   hazard.ReportType
}{
	{[]string{"blocked", "impassable", "closed road", "debris"}, hazard.ReportBlocked},
	{[]string{"clear", "passable", "dry", "no flood"}, hazard.ReportClear},
	{[]string{"traffic", "congest", "jam"}, hazard.ReportTraffic},
	{[]string{"evacuat", "rescue"}, hazard.ReportEvacuation},
	{[]string{"flood", "submerged", "waist deep", "knee deep", "rising water"}, hazard.ReportFlooding},
}

func (a *ruleBasedAdapter) Classify(_ context.Context, text string) (hazard.ReportType, error) {
	lower := strings.ToLower(text)
	for _, rule := range classifyKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.report, nil
			}
		}
	}
	return hazard.ReportHazard, nil
}

// gazetteer is a small preloaded set of well-known place names, enough to
// resolve the common mission-step location queries without a live geocoder.
var gazetteer = map[string]GeocodeResult{
	"marikina city hall":  {Lat: 14.6351, Lon: 121.1029, Found: true},
	"barangay hall":       {Lat: 14.6500, Lon: 121.1000, Found: true},
	"san mateo":           {Lat: 14.6967, Lon: 121.1192, Found: true},
	"montalban":           {Lat: 14.7306, Lon: 121.1413, Found: true},
	"cainta":              {Lat: 14.5783, Lon: 121.1222, Found: true},
	"pasig city hall":     {Lat: 14.5764, Lon: 121.0851, Found: true},
	"quezon city hall":    {Lat: 14.6507, Lon: 121.0494, Found: true},
}

func (a *ruleBasedAdapter) Geocode(_ context.Context, query string) (GeocodeResult, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if result, ok := gazetteer[key]; ok {
		return result, nil
	}
	for name, result := range gazetteer {
		if strings.Contains(key, name) {
			return result, nil
		}
	}
	return GeocodeResult{}, nil
}
