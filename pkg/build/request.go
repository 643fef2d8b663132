// Package build turns a build request into a running image build: it
// fetches the handler source, renders the build context, provisions the
// image repository, and submits the build Job.
package build

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Request identifies one tenant event handler to build and deploy.
// A Request is immutable once parsed.
type Request struct {
	// ThirdPartyID is the tenant identifier.
	ThirdPartyID string `json:"thirdPartyId"`
	// ParserID names the event handler within the tenant.
	ParserID string `json:"parserId"`
	// ID correlates all work for one build attempt. Assigned at parse
	// time when the start event does not carry one.
	ID string `json:"id,omitempty"`
}

// ParseRequest decodes the payload of a build-start event. A request
// without an id is given a fresh UUID so the attempt stays traceable
// through logs, metrics, and status records.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("unmarshalling build request: %w", err)
	}
	if req.ThirdPartyID == "" {
		return Request{}, errors.New("build request missing thirdPartyId")
	}
	if req.ParserID == "" {
		return Request{}, errors.New("build request missing parserId")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req, nil
}
