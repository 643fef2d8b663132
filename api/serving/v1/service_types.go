/*
Copyright 2025.

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

package v1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RevisionSpec holds the pod template and revision-level settings stamped out
// for each revision of a Service.
type RevisionSpec struct {
	corev1.PodSpec `json:",inline"`

	// ContainerConcurrency caps the number of in-flight requests a single
	// revision instance will accept. Zero means unlimited.
	// +optional
	ContainerConcurrency *int64 `json:"containerConcurrency,omitempty"`

	// TimeoutSeconds bounds the time a request may take before the revision
	// must answer it.
	// +optional
	TimeoutSeconds *int64 `json:"timeoutSeconds,omitempty"`
}

// RevisionTemplateSpec describes the revision created from the Service's
// current spec.
type RevisionTemplateSpec struct {
	// +optional
	metav1.ObjectMeta `json:"metadata,omitempty"`

	// +optional
	Spec RevisionSpec `json:"spec,omitempty"`
}

// ServiceSpec defines the desired state of a Knative Service.
type ServiceSpec struct {
	// Template is the revision template applied whenever the Service is
	// updated.
	// +optional
	Template RevisionTemplateSpec `json:"template,omitempty"`
}

// ServiceStatus defines the observed state of a Knative Service.
type ServiceStatus struct {
	// Conditions represent the latest available observations.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// URL is the externally reachable address of the Service.
	// +optional
	URL string `json:"url,omitempty"`

	// LatestReadyRevisionName names the most recent revision that reported
	// ready.
	// +optional
	LatestReadyRevisionName string `json:"latestReadyRevisionName,omitempty"`

	// LatestCreatedRevisionName names the most recently stamped revision.
	// +optional
	LatestCreatedRevisionName string `json:"latestCreatedRevisionName,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status

// Service mirrors the serving.knative.dev Service schema.
type Service struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ServiceSpec   `json:"spec,omitempty"`
	Status ServiceStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ServiceList contains a list of Service
type ServiceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Service `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Service{}, &ServiceList{})
}
