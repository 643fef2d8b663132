/*
Copyright 2026 Notifi Network.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package name

import (
	"encoding/hex"
	"strings"
	"testing"
)

// TestJoinWithSuffix checks the visible prefix, the suffix shape, and
// per-call uniqueness.
func TestJoinWithSuffix(t *testing.T) {
	// Check that it starts with the parts joined by '-'.
	got := JoinWithSuffix(DefaultConstraints, "one", "two", "three")
	if want := "one-two-three-"; !strings.HasPrefix(got, want) {
		t.Errorf("got %q, want prefix %q", got, want)
	}

	segments := strings.Split(got, "-")
	suffix := segments[len(segments)-1]
	if len(suffix) != SuffixLength {
		t.Errorf("expected suffix of length %d, got %q", SuffixLength, suffix)
	}
	if _, err := hex.DecodeString(suffix); err != nil {
		t.Errorf("suffix %q is not hex: %v", suffix, err)
	}

	// Two calls with identical parts must return distinct names so concurrent
	// build attempts for the same tenant/handler never collide.
	if a, b := JoinWithSuffix(DefaultConstraints, "one", "two"), JoinWithSuffix(DefaultConstraints, "one", "two"); a == b {
		t.Errorf("got same output for two calls: %v", a)
	}
}

func TestJoinWithSuffixTransformations(t *testing.T) {
	cons := Constraints{
		MaxLength:      50,
		ValidFirstChar: isLowercaseLetter,
	}

	table := []struct {
		input      []string
		wantPrefix string
	}{
		{
			input:      []string{"UpperCase-Letters", "Are-Lowercased"},
			wantPrefix: "uppercase-letters-are-lowercased-",
		},
		{
			input:      []string{"allowed-symbols", "dont---change"},
			wantPrefix: "allowed-symbols-dont---change-",
		},
		{
			input:      []string{"disallowed_symbols", "are.replaced"},
			wantPrefix: "disallowed-symbols-are-replaced-",
		},
		{
			input:      []string{"really-really-ridiculously-long-inputs-are-truncated"},
			wantPrefix: "really-really-ridiculously-long-inputs----",
		},
		{
			input:      []string{"-disallowed first chars", "-are prefixed"},
			wantPrefix: "x-disallowed-first-chars--are-prefixed-",
		},
		{
			input:      []string{"Transformed first char", "is ok"},
			wantPrefix: "transformed-first-char-is-ok-",
		},
	}

	for _, test := range table {
		got := JoinWithSuffix(cons, test.input...)
		if !strings.HasPrefix(got, test.wantPrefix) {
			t.Errorf(
				"JoinWithSuffix(%v) = %q; want prefix %q",
				test.input,
				got,
				test.wantPrefix,
			)
		}
	}
}

// TestJoinWithSuffixMaxLength checks that values are truncated to fit within
// the max length.
func TestJoinWithSuffixMaxLength(t *testing.T) {
	cons := Constraints{
		MaxLength:      25,
		ValidFirstChar: isLowercaseAlphanumeric,
	}

	// The total length after truncation should be equal to MaxLength.
	out := JoinWithSuffix(cons, strings.Repeat("a", 20), strings.Repeat("b", 20))
	if len(out) != cons.MaxLength {
		t.Errorf("len(%q) = %v; want %v", out, len(out), cons.MaxLength)
	}
	if !strings.Contains(out, truncationMark) {
		t.Errorf("expected truncation mark in %q", out)
	}

	// A truncated name still ends with the full suffix, so it stays a valid
	// object name and distinct from other truncated names.
	suffix := out[len(out)-SuffixLength:]
	if _, err := hex.DecodeString(suffix); err != nil {
		t.Errorf("suffix %q is not hex: %v", suffix, err)
	}

	// The outputs should still be unique thanks to the random suffix, even if
	// the truncated portion is identical.
	out1 := JoinWithSuffix(cons, strings.Repeat("a", 20), strings.Repeat("b", 100))
	out2 := JoinWithSuffix(cons, strings.Repeat("a", 20), strings.Repeat("b", 100))
	if out1 == out2 {
		t.Errorf("got same output for two calls: %v", out1)
	}
}

// TestBuildJobNaming tests the naming pattern used for build Jobs.
func TestBuildJobNaming(t *testing.T) {
	tests := []struct {
		name       string
		parts      []string
		wantPrefix string
	}{
		{
			name:       "plain ids",
			parts:      []string{"build", "acme", "p1"},
			wantPrefix: "build-acme-p1-",
		},
		{
			name:       "uuid-style tenant",
			parts:      []string{"build", "8f14e45f-ceea-467f-9cde", "p1"},
			wantPrefix: "build-8f14e45f-ceea-467f-9cde-p1-",
		},
		{
			name:       "mixed-case handler",
			parts:      []string{"build", "acme", "PriceAlert"},
			wantPrefix: "build-acme-pricealert-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JoinWithSuffix(JobConstraints, tt.parts...)

			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("got %q, want prefix %q", got, tt.wantPrefix)
			}
			if len(got) > JobConstraints.MaxLength {
				t.Errorf(
					"job name %q exceeds %d character limit (got %d)",
					got,
					JobConstraints.MaxLength,
					len(got),
				)
			}
			if !isLowercaseLetter(rune(got[0])) {
				t.Errorf("job name %q does not start with lowercase letter", got)
			}

			t.Logf("Generated name: %s", got)
		})
	}
}

// TestJoinWithSuffixFirstChar verifies that names start with a valid
// character even when the first part does not.
func TestJoinWithSuffixFirstChar(t *testing.T) {
	got := JoinWithSuffix(JobConstraints, "0numeric", "tenant")
	if !isLowercaseLetter(rune(got[0])) {
		t.Errorf("name %q does not start with lowercase letter", got)
	}
	if want := "x0numeric-tenant-"; !strings.HasPrefix(got, want) {
		t.Errorf("got %q, want prefix %q", got, want)
	}
}

// TestInvalidConstraintsPanic verifies that invalid constraints cause a panic.
func TestInvalidConstraintsPanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected panic for invalid constraints")
		}
	}()

	invalidCons := Constraints{
		MaxLength:      5, // Too short
		ValidFirstChar: isLowercaseLetter,
	}

	JoinWithSuffix(invalidCons, "test")
}

// TestEmptyParts verifies handling of empty input.
func TestEmptyParts(t *testing.T) {
	if got := JoinWithSuffix(DefaultConstraints); got != "" {
		t.Errorf("expected empty string for empty parts, got %q", got)
	}
}
