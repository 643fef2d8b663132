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
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// KReference names an addressable object on the cluster.
type KReference struct {
	Kind string `json:"kind"`
	// +optional
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	// +optional
	APIVersion string `json:"apiVersion,omitempty"`
}

// Destination points event delivery at a referenced object or an absolute URI.
type Destination struct {
	// +optional
	Ref *KReference `json:"ref,omitempty"`
	// +optional
	URI string `json:"uri,omitempty"`
}

// TriggerFilter selects events by exact match on CloudEvent context
// attributes.
type TriggerFilter struct {
	// +optional
	Attributes map[string]string `json:"attributes,omitempty"`
}

// DeliverySpec configures retry behavior and dead-lettering for event
// delivery.
type DeliverySpec struct {
	// Retry is the minimum number of delivery attempts before giving up.
	// +optional
	Retry *int32 `json:"retry,omitempty"`

	// BackoffPolicy is either "linear" or "exponential".
	// +optional
	BackoffPolicy *string `json:"backoffPolicy,omitempty"`

	// BackoffDelay is the initial retry delay in ISO 8601 duration format,
	// for example "PT1S".
	// +optional
	BackoffDelay *string `json:"backoffDelay,omitempty"`

	// DeadLetterSink receives events that exhausted their retries.
	// +optional
	DeadLetterSink *Destination `json:"deadLetterSink,omitempty"`
}

// TriggerSpec defines the desired state of a Knative Trigger.
type TriggerSpec struct {
	// Broker is the broker the trigger subscribes to.
	// +optional
	Broker string `json:"broker,omitempty"`

	// Filter restricts which events reach the subscriber.
	// +optional
	Filter *TriggerFilter `json:"filter,omitempty"`

	// Subscriber receives events that pass the filter.
	Subscriber Destination `json:"subscriber"`

	// +optional
	Delivery *DeliverySpec `json:"delivery,omitempty"`
}

// TriggerStatus defines the observed state of a Knative Trigger.
type TriggerStatus struct {
	// Conditions represent the latest available observations.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// SubscriberURI is the resolved address of the subscriber.
	// +optional
	SubscriberURI string `json:"subscriberUri,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status

// Trigger mirrors the eventing.knative.dev Trigger schema.
type Trigger struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   TriggerSpec   `json:"spec,omitempty"`
	Status TriggerStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// TriggerList contains a list of Trigger
type TriggerList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Trigger `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Trigger{}, &TriggerList{})
}
