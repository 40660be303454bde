package engine

import (
	"errors"
	"testing"

	"genorch/internal/domain"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		mode       string
		quality    string
		useKontext bool
		want       domain.Engine
	}{
		{name: "upscale ignores quality", mode: "upscale", quality: "premium", want: domain.EngineUpscale},
		{name: "upscale ignores kontext", mode: "upscale", useKontext: true, want: domain.EngineUpscale},
		{name: "edit with kontext", mode: "edit", quality: "fast", useKontext: true, want: domain.EngineKontext},
		{name: "edit", mode: "edit", quality: "premium", want: domain.EngineEdit},
		{name: "generate premium", mode: "generate", quality: "premium", want: domain.EnginePremium},
		{name: "generate fast", mode: "generate", quality: "fast", want: domain.EngineFast},
		{name: "generate standard", mode: "generate", quality: "standard", want: domain.EngineStandard},
		{name: "generate default quality", mode: "generate", want: domain.EngineStandard},
		{name: "generate ignores kontext", mode: "generate", quality: "premium", useKontext: true, want: domain.EnginePremium},
		{name: "case insensitive", mode: " Generate ", quality: "FAST", want: domain.EngineFast},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := Resolve(tc.mode, tc.quality, tc.useKontext)
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if spec.Engine != tc.want {
				t.Fatalf("engine = %s, want %s", spec.Engine, tc.want)
			}
			if spec.Provider == "" || spec.Model == "" || spec.EstimatedSeconds <= 0 {
				t.Fatalf("incomplete spec: %#v", spec)
			}
		})
	}
}

func TestResolveRejectsUnknownInput(t *testing.T) {
	for _, tc := range []struct{ mode, quality string }{
		{"", "standard"},
		{"inpaint", "standard"},
		{"generate", "ultra"},
	} {
		if _, err := Resolve(tc.mode, tc.quality, false); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("Resolve(%q, %q) error = %v, want ErrInvalidRequest", tc.mode, tc.quality, err)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	for _, quality := range []string{"", "standard", "fast", "premium"} {
		for i := 0; i < 20; i++ {
			spec, err := Resolve("edit", quality, true)
			if err != nil || spec.Engine != domain.EngineKontext {
				t.Fatalf("Resolve(edit, %q, true) = %v, %v", quality, spec.Engine, err)
			}
		}
	}
	first, _ := Resolve("generate", "premium", false)
	for i := 0; i < 20; i++ {
		spec, _ := Resolve("generate", "premium", false)
		if spec != first || spec.Engine != domain.EnginePremium {
			t.Fatalf("Resolve(generate, premium) drifted: %#v vs %#v", spec, first)
		}
	}
}

func TestTableCoversEveryEngine(t *testing.T) {
	for _, e := range Engines() {
		spec, ok := Lookup(e)
		if !ok {
			t.Fatalf("engine %s missing from table", e)
		}
		if spec.Engine != e {
			t.Fatalf("table entry for %s names %s", e, spec.Engine)
		}
		if spec.Credits <= 0 {
			t.Fatalf("engine %s has no cost", e)
		}
	}
}
