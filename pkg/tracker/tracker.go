// Package tracker keeps an in-memory registry of build attempts so that
// completion events can be correlated back to the request that started them
// and operators can query what the manager is doing.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/notifi-network/lambda-manager/pkg/build"
	"github.com/notifi-network/lambda-manager/pkg/monitoring"
)

// Phase describes where a build attempt is in its lifecycle.
type Phase string

// Attempt lifecycle phases. Accepted through Done is the happy path;
// Failed is terminal from any phase.
const (
	PhaseAccepted      Phase = "Accepted"
	PhaseSubmitted     Phase = "Submitted"
	PhaseCompleted     Phase = "Completed"
	PhaseMaterializing Phase = "Materializing"
	PhaseDone          Phase = "Done"
	PhaseFailed        Phase = "Failed"
)

// Terminal reports whether the phase is a final state.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// retention bounds how long terminal attempts stay queryable. Older records
// are dropped opportunistically when new attempts are accepted.
const retention = 24 * time.Hour

// BuildAttempt is one tracked build, from acceptance to its terminal phase.
type BuildAttempt struct {
	Request   build.Request `json:"request"`
	JobName   string        `json:"jobName,omitempty"`
	Image     string        `json:"image,omitempty"`
	Phase     Phase         `json:"phase"`
	StartedAt time.Time     `json:"startedAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Error     string        `json:"error,omitempty"`
}

// Tracker is a concurrency-safe registry of build attempts. Attempts are
// keyed by request ID; once a Job has been submitted its name becomes an
// additional lookup key, which is how completion events find their attempt.
type Tracker struct {
	mu    sync.RWMutex
	byID  map[string]*BuildAttempt
	byJob map[string]string // job name -> request ID
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		byID:  make(map[string]*BuildAttempt),
		byJob: make(map[string]string),
	}
}

// Accept records a freshly parsed build request in the Accepted phase and
// returns a snapshot of the new attempt.
func (t *Tracker) Accept(req build.Request) BuildAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked()

	now := time.Now()
	att := &BuildAttempt{
		Request:   req,
		Phase:     PhaseAccepted,
		StartedAt: now,
		UpdatedAt: now,
	}
	t.byID[req.ID] = att
	return *att
}

// MarkSubmitted transitions an attempt to Submitted and indexes it by Job
// name so completion events can be correlated. Unknown request IDs are
// ignored.
func (t *Tracker) MarkSubmitted(requestID, jobName, image string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	att, ok := t.byID[requestID]
	if !ok {
		return
	}
	att.JobName = jobName
	att.Image = image
	t.byJob[jobName] = requestID
	t.setPhase(att, PhaseSubmitted)
}

// MarkFailed records a pipeline failure for the attempt.
func (t *Tracker) MarkFailed(requestID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	att, ok := t.byID[requestID]
	if !ok {
		return
	}
	if err != nil {
		att.Error = err.Error()
	}
	t.setPhase(att, PhaseFailed)
}

// MarkCompleted transitions the attempt owning jobName to Completed and
// returns a snapshot of it. The bool is true only when this call performed
// the transition: it is false for Jobs nobody is tracking (e.g. the manager
// restarted since submission, leaving a zero snapshot) and for attempts that
// already moved past Submitted, so duplicate completion events collapse to a
// single materialization.
func (t *Tracker) MarkCompleted(jobName string) (BuildAttempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	att, ok := t.byJobLocked(jobName)
	if !ok {
		return BuildAttempt{}, false
	}
	if att.Phase != PhaseAccepted && att.Phase != PhaseSubmitted {
		return *att, false
	}
	t.setPhase(att, PhaseCompleted)
	return *att, true
}

// Adopt records an attempt reconstructed from a completion event's request
// payload when the tracker has no record of the Job. The attempt enters
// directly in the Completed phase.
func (t *Tracker) Adopt(req build.Request, jobName string) BuildAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	att := &BuildAttempt{
		Request:   req,
		JobName:   jobName,
		StartedAt: now,
		UpdatedAt: now,
	}
	t.byID[req.ID] = att
	t.byJob[jobName] = req.ID
	t.setPhase(att, PhaseCompleted)
	return *att
}

// MarkMaterializing transitions the attempt owning jobName to Materializing.
func (t *Tracker) MarkMaterializing(jobName string) {
	t.transitionJob(jobName, PhaseMaterializing)
}

// MarkDone transitions the attempt owning jobName to Done.
func (t *Tracker) MarkDone(jobName string) {
	t.transitionJob(jobName, PhaseDone)
}

// FailJob marks the attempt owning jobName Failed, recording err.
func (t *Tracker) FailJob(jobName string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	att, ok := t.byJobLocked(jobName)
	if !ok {
		return
	}
	if err != nil {
		att.Error = err.Error()
	}
	t.setPhase(att, PhaseFailed)
}

// ByJob returns a snapshot of the attempt owning jobName.
func (t *Tracker) ByJob(jobName string) (BuildAttempt, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	att, ok := t.byJobLocked(jobName)
	if !ok {
		return BuildAttempt{}, false
	}
	return *att, true
}

// ForHandler returns snapshots of every attempt for the given tenant and
// handler, newest first.
func (t *Tracker) ForHandler(thirdPartyID, parserID string) []BuildAttempt {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []BuildAttempt
	for _, att := range t.byID {
		if att.Request.ThirdPartyID == thirdPartyID && att.Request.ParserID == parserID {
			out = append(out, *att)
		}
	}
	sortAttempts(out)
	return out
}

// All returns snapshots of every tracked attempt, newest first.
func (t *Tracker) All() []BuildAttempt {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]BuildAttempt, 0, len(t.byID))
	for _, att := range t.byID {
		out = append(out, *att)
	}
	sortAttempts(out)
	return out
}

// setPhase updates the attempt's phase and mirrors it into the build info
// gauge. Callers must hold t.mu.
func (t *Tracker) setPhase(att *BuildAttempt, phase Phase) {
	att.Phase = phase
	att.UpdatedAt = time.Now()
	if att.JobName != "" {
		monitoring.SetBuildPhase(
			att.JobName,
			att.Request.ThirdPartyID,
			att.Request.ParserID,
			string(phase),
		)
	}
}

// transitionJob applies a phase to the attempt owning jobName, ignoring
// unknown jobs.
func (t *Tracker) transitionJob(jobName string, phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if att, ok := t.byJobLocked(jobName); ok {
		t.setPhase(att, phase)
	}
}

// byJobLocked resolves the job name index. Callers must hold t.mu.
func (t *Tracker) byJobLocked(jobName string) (*BuildAttempt, bool) {
	id, ok := t.byJob[jobName]
	if !ok {
		return nil, false
	}
	att, ok := t.byID[id]
	return att, ok
}

// pruneLocked drops terminal attempts past the retention window along with
// their metric series. Callers must hold t.mu.
func (t *Tracker) pruneLocked() {
	cutoff := time.Now().Add(-retention)
	for id, att := range t.byID {
		if !att.Phase.Terminal() || att.UpdatedAt.After(cutoff) {
			continue
		}
		delete(t.byID, id)
		if att.JobName != "" {
			delete(t.byJob, att.JobName)
			monitoring.ClearBuild(att.JobName, att.Request.ThirdPartyID, att.Request.ParserID)
		}
	}
}

func sortAttempts(atts []BuildAttempt) {
	sort.Slice(atts, func(i, j int) bool {
		return atts[i].StartedAt.After(atts[j].StartedAt)
	})
}
