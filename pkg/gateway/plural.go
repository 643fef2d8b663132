package gateway

import (
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// pluralExceptions maps kinds whose resource name the suffix rules in
// pluralize would get wrong: pre-pluralized kinds and vowel-y endings.
var pluralExceptions = map[string]string{
	"Endpoints": "endpoints",
	"Gateway":   "gateways",
}

// ResourceFor derives the GroupVersionResource for a kind the scheme does
// not know, using the pluralization rules the apiserver applies to
// built-in and CRD resource names.
func ResourceFor(gvk schema.GroupVersionKind) schema.GroupVersionResource {
	return gvk.GroupVersion().WithResource(pluralize(gvk.Kind))
}

func pluralize(kind string) string {
	if resource, ok := pluralExceptions[kind]; ok {
		return resource
	}
	k := strings.ToLower(kind)
	switch {
	case strings.HasSuffix(k, "y"):
		return k[:len(k)-1] + "ies"
	case strings.HasSuffix(k, "s"),
		strings.HasSuffix(k, "x"),
		strings.HasSuffix(k, "z"),
		strings.HasSuffix(k, "ch"),
		strings.HasSuffix(k, "sh"):
		return k + "es"
	default:
		return k + "s"
	}
}
