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

// Package name generates valid Kubernetes object names for per-attempt
// resources from caller-supplied parts such as tenant and handler
// identifiers.
//
// JoinWithSuffix appends a fresh random suffix so two concurrent build
// attempts for the same tenant/handler pair never collide on the object
// name. Singleton resources that are 1:1 with a handler (Knative Services,
// Triggers) use simple string concatenation instead, without a suffix, so
// their names stay predictable and each rebuild replaces the previous
// object in place.
package name

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

const (
	// suffixBytes is the number of random bytes in a Suffix().
	suffixBytes = 4

	// SuffixLength is the number of characters in the hex-encoded string
	// returned from Suffix().
	SuffixLength = 2 * suffixBytes

	// truncationMark is a special separator used when appending the suffix to
	// a truncated name to indicate that truncation occurred.
	truncationMark = "---"

	// minTruncatedLength is the shortest possible length of a name that had to
	// be truncated. There has to be at least one character in front of the
	// truncationMark since names can't start with '-', then the truncationMark
	// itself, and finally the suffix.
	minTruncatedLength = 1 + len(truncationMark) + SuffixLength
)

// Constraints specifies rules that the output of JoinWithSuffix must follow.
type Constraints struct {
	// MaxLength is the maximum length of the output, to be enforced after any
	// transformations and including the suffix. If a name has to be truncated
	// to fit within this maximum length, the suffix at the end will be
	// preceded by a special truncation mark: "---" rather than the usual "-".
	//
	// MaxLength must be at least 12 because that's the shortest possible
	// truncated value (1 char + truncation mark + suffix). Passing a value
	// less than 12 will result in a panic.
	MaxLength int
	// ValidFirstChar is a function that returns whether the given rune is
	// allowed as the first character in the output.
	ValidFirstChar func(r rune) bool
}

var (
	// DefaultConstraints are the name constraints for objects in Kubernetes
	// that don't have any special rules.
	DefaultConstraints = Constraints{
		MaxLength:      253,
		ValidFirstChar: isLowercaseAlphanumeric,
	}
	// JobConstraints are name constraints for batch Job objects. The Job name
	// becomes the prefix of its Pod names, which append "-" plus a random
	// five-character string, and Pod names are capped at 63. To be safe, we
	// reserve 11 characters for the Pod suffix. 63 - 11 = 52.
	JobConstraints = Constraints{
		MaxLength:      52,
		ValidFirstChar: isLowercaseLetter,
	}
)

// Suffix returns a fresh random hex string for a per-attempt object name.
func Suffix() string {
	var b [suffixBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// JoinWithSuffix builds a name by concatenating a number of parts with '-'
// as the separator, appending a fresh random suffix, and then enforcing the
// given constraints on the resulting name.
//
// Two calls with identical parts return distinct names, so the output can
// identify one build attempt among many for the same tenant/handler pair.
//
// The constraints passed in should be appropriate for the kind of object
// (e.g. Job, Pod) whose name is being generated, to ensure the name is
// accepted by Kubernetes validation.
func JoinWithSuffix(cons Constraints, parts ...string) string {
	// Always panic immediately if specified Constraints are invalid so we
	// notice the programming error even if the inputs don't happen to trigger
	// the constraints.
	if cons.MaxLength < minTruncatedLength {
		panic(
			fmt.Sprintf(
				"MaxLength of %v is invalid; must be at least %v",
				cons.MaxLength,
				minTruncatedLength,
			),
		)
	}

	if len(parts) == 0 {
		return ""
	}

	suffix := Suffix()

	// Transform the input parts to ensure they meet the constraints.
	newParts := make([]string, 0, len(parts))
	transform := func(r rune) rune {
		if isLowercaseAlphanumeric(r) || r == '-' {
			return r
		}
		if isUppercaseLetter(r) {
			return unicode.ToLower(r)
		}
		return '-'
	}
	for _, part := range parts {
		newParts = append(newParts, strings.Map(transform, part))
	}

	// From here on, we can assume the strings in newParts contain only ASCII,
	// which simplifies offset-based access.

	// Check if we need to add a prefix to make sure the first character is valid.
	firstPart := newParts[0]
	if len(firstPart) == 0 || !cons.ValidFirstChar(rune(firstPart[0])) {
		newParts[0] = "x" + firstPart
	}

	// If the predicted length is ok, we just need to append the suffix.
	partialResult := strings.Join(newParts, "-")
	predictedLength := len(partialResult) + 1 + len(suffix)
	if predictedLength <= cons.MaxLength {
		return partialResult + "-" + suffix
	}

	// Otherwise, we need to truncate the partial result before appending the
	// suffix to ensure the full suffix fits. We need to cut off enough to get
	// back to MaxLength, and then a little extra to make room for the
	// triple-separator mark we use to indicate that the name was truncated.
	cutLength := predictedLength - cons.MaxLength + 2
	partialResult = partialResult[:len(partialResult)-cutLength]
	return partialResult + truncationMark + suffix
}

func isLowercaseLetter(r rune) bool {
	return r >= 'a' && r <= 'z'
}

func isUppercaseLetter(r rune) bool {
	return r >= 'A' && r <= 'Z'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isLowercaseAlphanumeric(r rune) bool {
	return isLowercaseLetter(r) || isDigit(r)
}
