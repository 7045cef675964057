package policy

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/terravet/terravet/pkg/tfconfig"
)

func noopCheck(cfg *tfconfig.Config, raw string) ([]Violation, error) {
	return nil, nil
}

func TestNewRegistry_RejectsDuplicateCodes(t *testing.T) {
	defs := []Definition{
		{Code: "A", Check: noopCheck},
		{Code: "A", Check: noopCheck},
	}
	if _, err := NewRegistry(zerolog.Nop(), defs); err == nil {
		t.Fatal("expected error for duplicate policy code")
	}
}

func TestNewRegistry_RejectsNilCheck(t *testing.T) {
	if _, err := NewRegistry(zerolog.Nop(), []Definition{{Code: "A"}}); err == nil {
		t.Fatal("expected error for nil check function")
	}
}

func TestRegistry_ActiveFiltersProvider(t *testing.T) {
	defs := []Definition{
		{Code: "AWS_ONLY", Provider: "aws", Check: noopCheck},
		{Code: "GCP_ONLY", Provider: "gcp", Check: noopCheck},
		{Code: "ANYWHERE", Provider: "all", Check: noopCheck},
	}
	r, err := NewRegistry(zerolog.Nop(), defs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := r.Active("aws", nil)
	if len(active) != 2 {
		t.Fatalf("expected 2 active policies for aws, got %d", len(active))
	}
	if active[0].Code != "AWS_ONLY" || active[1].Code != "ANYWHERE" {
		t.Errorf("active policies out of registration order: %v", active)
	}
}

func TestRegistry_ActiveHonorsActivationFlags(t *testing.T) {
	defs := []Definition{
		{Code: "ON", Check: noopCheck},
		{Code: "OFF", Check: noopCheck},
		{Code: "UNLISTED", Check: noopCheck},
	}
	r, err := NewRegistry(zerolog.Nop(), defs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	act := Activation{"ON": true, "OFF": false}
	active := r.Active("aws", act)
	if len(active) != 2 {
		t.Fatalf("expected 2 active policies, got %d", len(active))
	}
	for _, d := range active {
		if d.Code == "OFF" {
			t.Error("disabled policy must not be active")
		}
	}
}

func TestRegistry_EmptyProviderDefaultsToAll(t *testing.T) {
	r, err := NewRegistry(zerolog.Nop(), []Definition{{Code: "X", Check: noopCheck}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.Active("azure", nil); len(got) != 1 {
		t.Fatalf("expected provider-less policy to apply everywhere, got %d", len(got))
	}
}

func TestSeverityWeights(t *testing.T) {
	cases := map[Severity]int{
		SeverityCritical: 25,
		SeverityHigh:     15,
		SeverityMedium:   5,
		SeverityLow:      2,
		SeverityInfo:     0,
	}
	for sev, want := range cases {
		if got := sev.Weight(); got != want {
			t.Errorf("weight(%s) = %d, want %d", sev, got, want)
		}
	}
}
