package metadata

import (
	"maps"
)

// Standard Kubernetes label keys following kubernetes.io conventions.
//
// See: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
const (
	// LabelAppName is the standard label key for the application name.
	LabelAppName = "app.kubernetes.io/name"

	// LabelAppInstance is the standard label key for the unique instance name.
	LabelAppInstance = "app.kubernetes.io/instance"

	// LabelAppVersion is the standard label key for the application version.
	LabelAppVersion = "app.kubernetes.io/version"

	// LabelAppComponent is the standard label key for the component within the
	// application.
	LabelAppComponent = "app.kubernetes.io/component"

	// LabelAppPartOf is the standard label key for the name of a higher level
	// application this one is part of.
	LabelAppPartOf = "app.kubernetes.io/part-of"

	// LabelAppManagedBy is the standard label key for the tool managing the
	// resource.
	LabelAppManagedBy = "app.kubernetes.io/managed-by"
)

const (
	// AppNameLambda is the fixed application name for all tenant handler
	// resources.
	AppNameLambda = "lambda"

	// ManagedByLambdaManager identifies the manager owning these resources.
	ManagedByLambdaManager = "lambda-manager"
)

const (
	// ComponentBuild identifies build Jobs.
	ComponentBuild = "build"

	// ComponentHandler identifies the Knative Service running a handler.
	ComponentHandler = "handler"

	// ComponentTrigger identifies the Knative Trigger subscribing a handler.
	ComponentTrigger = "trigger"
)

const (
	// LabelNotifiTenant identifies which tenant a resource belongs to.
	LabelNotifiTenant = "notifi.network/tenant"

	// LabelNotifiHandler identifies which handler a resource belongs to.
	LabelNotifiHandler = "notifi.network/handler"

	// LabelNotifiBuild identifies the build attempt that produced a resource.
	LabelNotifiBuild = "notifi.network/build"
)

// BuildStandardLabels returns a map of standard kubernetes labels.
// instance should be the name of the owning object (used for instance label).
// component is the name of the component (e.g. build, handler, trigger).
func BuildStandardLabels(instance, component string) map[string]string {
	return map[string]string{
		LabelAppName:      AppNameLambda,
		LabelAppInstance:  instance,
		LabelAppComponent: component,
		LabelAppPartOf:    AppNameLambda,
		LabelAppManagedBy: ManagedByLambdaManager,
	}
}

// AddTenantLabel adds the tenant label to the provided labels map.
func AddTenantLabel(labels map[string]string, tenant string) map[string]string {
	labels[LabelNotifiTenant] = tenant
	return labels
}

// AddHandlerLabel adds the handler label to the provided labels map.
func AddHandlerLabel(labels map[string]string, handler string) map[string]string {
	labels[LabelNotifiHandler] = handler
	return labels
}

// AddBuildLabel adds the build attempt label to the provided labels map.
func AddBuildLabel(labels map[string]string, buildName string) map[string]string {
	labels[LabelNotifiBuild] = buildName
	return labels
}

// selectorLabelsAllowList contains the keys that are allowed in label selectors.
// These must be stable identity labels, not mutable metadata.
var selectorLabelsAllowList = map[string]bool{
	LabelAppComponent:  true,
	LabelAppInstance:   true,
	LabelNotifiTenant:  true,
	LabelNotifiHandler: true,
}

// GetSelectorLabels filters the provided labels map to return only those keys
// allowed in resource selectors (Identity Labels).
//
// This separates stable identity labels from mutable metadata labels like the
// per-attempt build label, so listing all resources for a tenant/handler pair
// works across rebuilds.
func GetSelectorLabels(labels map[string]string) map[string]string {
	selectorLabels := make(map[string]string)
	for k, v := range labels {
		if selectorLabelsAllowList[k] {
			selectorLabels[k] = v
		}
	}
	return selectorLabels
}

// MergeLabels merges custom labels with standard labels.
//
// Note that standard labels take precedence over custom labels to prevent
// templates from overriding critical manager-owned labels.
func MergeLabels(standardLabels, customLabels map[string]string) map[string]string {
	merged := make(map[string]string)

	// Copy custom labels first (if provided)
	maps.Copy(merged, customLabels)

	// Copy standard labels (overwriting any duplicates from custom)
	maps.Copy(merged, standardLabels)

	return merged
}
