// Package llm implements the LLM adapter (spec §9): a narrow classify/
// geocode interface in front of the configured provider, with a concrete
// Anthropic-backed implementation and a rule-based fallback used when
// LLM_ENABLED is false or the adapter errors. Grounded on the teacher's
// pkg/ai/llm.NewClient(cfg, logger) provider-dispatch shape.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-logr/logr"

	apperrors "github.com/mas-fro/core/pkg/errors"
	"github.com/mas-fro/core/pkg/hazard"
)

// Config is the subset of internal/config.Config the adapter needs.
type Config struct {
	Enabled     bool
	APIKey      string
	TextModel   string
	VisionModel string
}

// GeocodeResult is what Geocode resolves a free-text location query to.
type GeocodeResult struct {
	Lat   float64
	Lon   float64
	Found bool
}

// Adapter classifies free-text scout reports and geocodes place names, the
// two LLM-backed operations (spec §9). The cmd/masfro HTTP handlers call
// them for feedback classification and evacuation-center geocoding; no
// Orchestrator mission step uses them.
type Adapter interface {
	Classify(ctx context.Context, text string) (hazard.ReportType, error)
	Geocode(ctx context.Context, query string) (GeocodeResult, error)
}

// NewAdapter builds the configured Adapter: an Anthropic-backed client when
// cfg.Enabled, the rule-based fallback otherwise.
func NewAdapter(cfg Config, log logr.Logger) (Adapter, error) {
	if !cfg.Enabled {
		return newRuleBasedAdapter(log), nil
	}
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "LLM_ENABLED set without GOOGLE_API_KEY")
	}
	return &anthropicAdapter{
		client:   anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:    cfg.TextModel,
		log:      log.WithName("llm_adapter"),
		fallback: newRuleBasedAdapter(log),
	}, nil
}

const classifyPromptTemplate = `Classify the following flood-scout report into exactly one of: flooding, clear, blocked, traffic, hazard, evacuation. Respond with only the label.

Report: %s`

const geocodePromptTemplate = `Resolve the following place name or description to a decimal (latitude, longitude) pair in the Philippines. Respond with exactly "lat,lon" and nothing else, or "unknown" if you cannot resolve it.

Query: %s`

// anthropicAdapter calls the configured Anthropic model; any API error
// degrades to the rule-based fallback rather than propagating, since a
// classification/geocode miss must never block a mission step.
type anthropicAdapter struct {
	client   anthropic.Client
	model    string
	log      logr.Logger
	fallback Adapter
}

func (a *anthropicAdapter) Classify(ctx context.Context, text string) (hazard.ReportType, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 16,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(classifyPromptTemplate, text))),
		},
	})
	if err != nil {
		a.log.Error(err, "anthropic classify call failed, using fallback")
		return a.fallback.Classify(ctx, text)
	}
	return parseReportType(responseText(msg)), nil
}

func (a *anthropicAdapter) Geocode(ctx context.Context, query string) (GeocodeResult, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 32,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(geocodePromptTemplate, query))),
		},
	})
	if err != nil {
		a.log.Error(err, "anthropic geocode call failed, using fallback")
		return a.fallback.Geocode(ctx, query)
	}
	lat, lon, ok := parseLatLon(responseText(msg))
	if !ok {
		return a.fallback.Geocode(ctx, query)
	}
	return GeocodeResult{Lat: lat, Lon: lon, Found: true}, nil
}

func responseText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if text := block.AsText(); text.Text != "" {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

func parseLatLon(s string) (float64, float64, bool) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	var lat, lon float64
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%f", &lat); err != nil {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%f", &lon); err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

func parseReportType(s string) hazard.ReportType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(hazard.ReportFlooding):
		return hazard.ReportFlooding
	case string(hazard.ReportClear):
		return hazard.ReportClear
	case string(hazard.ReportBlocked):
		return hazard.ReportBlocked
	case string(hazard.ReportTraffic):
		return hazard.ReportTraffic
	case string(hazard.ReportEvacuation):
		return hazard.ReportEvacuation
	default:
		return hazard.ReportHazard
	}
}
