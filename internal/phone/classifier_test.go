package phone

import (
	"testing"
)

func TestClassifyNormalizesNationalForms(t *testing.T) {
	t.Parallel()

	c := NewClassifier("PH", 63)

	raws := []string{
		"09171234567",
		"9171234567",
		"639171234567",
		"+639171234567",
		"+63 917 123 4567",
		"0917-123-4567",
	}
	for _, raw := range raws {
		result := c.Classify(raw)
		if result.Canonical != "+639171234567" {
			t.Fatalf("raw %q: unexpected canonical %q", raw, result.Canonical)
		}
		if !result.Valid {
			t.Fatalf("raw %q: expected valid", raw)
		}
		if !result.TargetRegion {
			t.Fatalf("raw %q: expected target region match", raw)
		}
		if result.Region != "PH" {
			t.Fatalf("raw %q: unexpected region %q", raw, result.Region)
		}
	}
}

func TestClassifyForeignNumber(t *testing.T) {
	t.Parallel()

	c := NewClassifier("PH", 63)

	result := c.Classify("+14155552671")
	if !result.Valid {
		t.Fatalf("expected valid US number")
	}
	if result.TargetRegion {
		t.Fatalf("US number must not match target region")
	}
	if result.Region != "US" {
		t.Fatalf("unexpected region %q", result.Region)
	}
	if result.CountryCode != 1 {
		t.Fatalf("unexpected country code %d", result.CountryCode)
	}
}

func TestClassifyGarbageEchoesInput(t *testing.T) {
	t.Parallel()

	c := NewClassifier("PH", 63)

	for _, raw := range []string{"", "not-a-number", "+++"} {
		result := c.Classify(raw)
		if result.Valid || result.TargetRegion {
			t.Fatalf("raw %q: garbage classified as valid", raw)
		}
		if result.Canonical != raw {
			t.Fatalf("raw %q: expected canonical to echo input, got %q", raw, result.Canonical)
		}
	}
}

func TestClassifyValidButAmbiguousIsNotTarget(t *testing.T) {
	t.Parallel()

	// validity alone is not enough, both region and calling code have to
	// line up with the configured target
	c := NewClassifier("US", 1)

	result := c.Classify("+639171234567")
	if !result.Valid {
		t.Fatalf("expected valid number")
	}
	if result.TargetRegion {
		t.Fatalf("PH number must not match US target")
	}
}
