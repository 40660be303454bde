package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"genorch/internal/domain"
)

type namedAdapter string

func (n namedAdapter) Name() string { return string(n) }
func (namedAdapter) StartJob(context.Context, StartRequest) (string, error) {
	return "", nil
}
func (namedAdapter) GetStatus(context.Context, JobRef) (domain.ProviderUpdate, error) {
	return domain.ProviderUpdate{}, nil
}
func (namedAdapter) Cancel(context.Context, JobRef) error { return nil }
func (namedAdapter) ParseWebhook(http.Header, []byte) (domain.ProviderUpdate, error) {
	return domain.ProviderUpdate{}, nil
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(namedAdapter("Replicate"), namedAdapter("fal"))
	if _, err := reg.Get(" replicate "); err != nil {
		t.Fatalf("get replicate: %v", err)
	}
	if _, err := reg.Get("midjourney"); !errors.Is(err, domain.ErrUnknownProvider) {
		t.Fatalf("unknown provider err = %v", err)
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "fal" || names[1] != "replicate" {
		t.Fatalf("names = %v", names)
	}
}

func TestFingerprintIsStable(t *testing.T) {
	a := Fingerprint("p1", "succeeded")
	if a != Fingerprint("p1", "succeeded") {
		t.Fatal("fingerprint not deterministic")
	}
	if a == Fingerprint("p1s", "ucceeded") {
		t.Fatal("fingerprint must separate parts")
	}
	if len(a) != 32 {
		t.Fatalf("fingerprint length = %d", len(a))
	}
}
