package manifest

import (
	"errors"
	"testing"
)

func TestDiagnosticsAddAndCount(t *testing.T) {
	d := NewDiagnostics()
	if d.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", d.Count())
	}
	d.Add(NewWarning(CategoryUnrecognisedScheme, "ContentProtection#0", errors.New("unknown scheme")))
	d.Add(NewWarning(CategoryCouldNotGuessMimeType, "Representation#2", errors.New("no extension")))
	if d.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", d.Count())
	}
	warnings := d.Warnings()
	if len(warnings) != 2 {
		t.Fatalf("Warnings() len = %d, want 2", len(warnings))
	}
	if warnings[0].Category != CategoryUnrecognisedScheme {
		t.Errorf("warnings[0].Category = %v, want CategoryUnrecognisedScheme", warnings[0].Category)
	}
}

func TestDiagnosticsAddNilIgnored(t *testing.T) {
	d := NewDiagnostics()
	d.Add(nil)
	if d.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after adding nil", d.Count())
	}
}

func TestDiagnosticsReset(t *testing.T) {
	d := NewDiagnostics()
	d.Add(NewWarning(CategoryNetwork, "", errors.New("timeout")))
	d.Reset()
	if d.Count() != 0 {
		t.Errorf("Count() = %d after Reset(), want 0", d.Count())
	}
}
