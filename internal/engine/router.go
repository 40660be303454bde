// Package engine maps a request's declared mode, quality and feature flags onto a concrete
// provider and model. The table below is the only place engine choice is made; provider
// adapters receive the resolved model and never re-derive it.
package engine

import (
	"strings"

	"genorch/internal/domain"
)

// Mode is the kind of work requested.
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeEdit     Mode = "edit"
	ModeUpscale  Mode = "upscale"
)

// Quality is the requested quality tier for generate mode.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityFast     Quality = "fast"
	QualityPremium  Quality = "premium"
)

const (
	ProviderReplicate = "replicate"
	ProviderFal       = "fal"
)

// Spec is the fixed provider/model/cost entry of one engine.
type Spec struct {
	Engine           domain.Engine
	Provider         string
	Model            string
	EstimatedSeconds int
	Credits          int
}

var table = map[domain.Engine]Spec{
	domain.EngineStandard: {Engine: domain.EngineStandard, Provider: ProviderReplicate, Model: "black-forest-labs/flux-dev", EstimatedSeconds: 20, Credits: 1},
	domain.EngineFast:     {Engine: domain.EngineFast, Provider: ProviderReplicate, Model: "black-forest-labs/flux-schnell", EstimatedSeconds: 6, Credits: 1},
	domain.EnginePremium:  {Engine: domain.EnginePremium, Provider: ProviderReplicate, Model: "black-forest-labs/flux-1.1-pro-ultra", EstimatedSeconds: 45, Credits: 1},
	domain.EngineEdit:     {Engine: domain.EngineEdit, Provider: ProviderFal, Model: "fal-ai/flux/dev/image-to-image", EstimatedSeconds: 25, Credits: 1},
	domain.EngineKontext:  {Engine: domain.EngineKontext, Provider: ProviderFal, Model: "fal-ai/flux-pro/kontext", EstimatedSeconds: 30, Credits: 1},
	domain.EngineUpscale:  {Engine: domain.EngineUpscale, Provider: ProviderReplicate, Model: "nightmareai/real-esrgan", EstimatedSeconds: 15, Credits: 1},
}

// Resolve picks the engine for a request. It is pure and deterministic; rules are evaluated
// in order and the first match wins.
func Resolve(mode, quality string, useKontext bool) (Spec, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(mode)))
	q := Quality(strings.ToLower(strings.TrimSpace(quality)))

	switch m {
	case ModeGenerate, ModeEdit, ModeUpscale:
	default:
		return Spec{}, domain.InvalidRequestf("unsupported mode %q", mode)
	}
	switch q {
	case "", QualityStandard, QualityFast, QualityPremium:
	default:
		return Spec{}, domain.InvalidRequestf("unsupported quality %q", quality)
	}

	var e domain.Engine
	switch {
	case m == ModeUpscale:
		e = domain.EngineUpscale
	case m == ModeEdit && useKontext:
		e = domain.EngineKontext
	case m == ModeEdit:
		e = domain.EngineEdit
	case m == ModeGenerate && q == QualityPremium:
		e = domain.EnginePremium
	case m == ModeGenerate && q == QualityFast:
		e = domain.EngineFast
	default:
		e = domain.EngineStandard
	}
	return table[e], nil
}

// Lookup returns the table entry of an already resolved engine.
func Lookup(e domain.Engine) (Spec, bool) {
	spec, ok := table[e]
	return spec, ok
}

// Engines lists every engine in the table.
func Engines() []domain.Engine {
	return []domain.Engine{
		domain.EngineStandard,
		domain.EngineFast,
		domain.EnginePremium,
		domain.EngineEdit,
		domain.EngineKontext,
		domain.EngineUpscale,
	}
}
