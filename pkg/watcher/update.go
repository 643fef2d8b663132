// Package watcher consumes resource-status events and turns build Job
// completions into handler materializations.
package watcher

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Condition vocabulary for batch Jobs, kept as plain strings because status
// events arrive as loosely typed JSON rather than typed API objects.
const (
	kindJob           = "Job"
	conditionComplete = "Complete"
	conditionFailed   = "Failed"
	conditionTrue     = "True"
)

// UpdateCondition is one entry of a watched object's condition list.
type UpdateCondition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// UpdateStatus carries the condition list of a watched object.
type UpdateStatus struct {
	Conditions []UpdateCondition `json:"conditions,omitempty"`
}

// UpdateMetadata carries the subset of object metadata completion handling
// uses.
type UpdateMetadata struct {
	Name        string            `json:"name,omitempty"`
	Namespace   string            `json:"namespace,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// ResourceUpdate is one observation of a watched cluster object. Events in
// reference form carry the object name at the top level; full-object events
// carry it under metadata. BuildEvent, when present, is the originating
// build request attached by the event source so completions stay
// correlatable across manager restarts.
type ResourceUpdate struct {
	Kind       string          `json:"kind"`
	Name       string          `json:"name,omitempty"`
	Metadata   *UpdateMetadata `json:"metadata,omitempty"`
	Status     *UpdateStatus   `json:"status,omitempty"`
	BuildEvent json.RawMessage `json:"buildEvent,omitempty"`
}

// ParseUpdate decodes a resource-status event payload. An update without a
// kind and an object name is malformed; there is nothing to correlate it to.
func ParseUpdate(data []byte) (ResourceUpdate, error) {
	var u ResourceUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return ResourceUpdate{}, fmt.Errorf("unmarshalling resource update: %w", err)
	}
	if u.Kind == "" {
		return ResourceUpdate{}, errors.New("resource update missing kind")
	}
	if u.ObjectName() == "" {
		return ResourceUpdate{}, errors.New("resource update missing object name")
	}
	return u, nil
}

// ObjectName returns the update's object name from either carrier position.
func (u ResourceUpdate) ObjectName() string {
	if u.Name != "" {
		return u.Name
	}
	if u.Metadata != nil {
		return u.Metadata.Name
	}
	return ""
}

// Annotations returns the watched object's annotations, nil when the event
// carried none.
func (u ResourceUpdate) Annotations() map[string]string {
	if u.Metadata == nil {
		return nil
	}
	return u.Metadata.Annotations
}

// IsJobComplete reports whether u describes a Job that finished
// successfully: the kind is Job and some condition is Complete=True.
// Everything else, including Jobs still running and non-Job kinds, is
// false.
func IsJobComplete(u ResourceUpdate) bool {
	return u.Kind == kindJob && hasCondition(u.Status, conditionComplete)
}

// IsJobFailed reports whether u describes a Job that failed terminally.
func IsJobFailed(u ResourceUpdate) bool {
	return u.Kind == kindJob && hasCondition(u.Status, conditionFailed)
}

func hasCondition(status *UpdateStatus, conditionType string) bool {
	if status == nil {
		return false
	}
	for _, c := range status.Conditions {
		if c.Type == conditionType && c.Status == conditionTrue {
			return true
		}
	}
	return false
}

// failureMessage extracts an error string from a failed Job's conditions.
func failureMessage(u ResourceUpdate) string {
	if u.Status != nil {
		for _, c := range u.Status.Conditions {
			if c.Type != conditionFailed || c.Status != conditionTrue {
				continue
			}
			if c.Message != "" {
				return c.Message
			}
			if c.Reason != "" {
				return c.Reason
			}
		}
	}
	return "build job reported a failed condition"
}
