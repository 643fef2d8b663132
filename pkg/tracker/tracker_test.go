package tracker

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/notifi-network/lambda-manager/pkg/build"
)

func TestAttemptLifecycle(t *testing.T) {
	tr := New()
	req := build.Request{ThirdPartyID: "acme", ParserID: "price-alert", ID: "req-1"}

	att := tr.Accept(req)
	if att.Phase != PhaseAccepted {
		t.Fatalf("Accept phase = %q, want %q", att.Phase, PhaseAccepted)
	}
	if att.StartedAt.IsZero() || att.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set on acceptance")
	}

	tr.MarkSubmitted("req-1", "build-acme-price-alert-a1b2c3d4", "reg/knative-lambdas/acme:price-alert")

	got, ok := tr.ByJob("build-acme-price-alert-a1b2c3d4")
	if !ok {
		t.Fatal("expected attempt to be indexed by job name after submission")
	}
	if got.Phase != PhaseSubmitted {
		t.Errorf("phase after submit = %q, want %q", got.Phase, PhaseSubmitted)
	}
	if got.Image != "reg/knative-lambdas/acme:price-alert" {
		t.Errorf("image = %q, want the submitted image", got.Image)
	}

	completed, ok := tr.MarkCompleted("build-acme-price-alert-a1b2c3d4")
	if !ok {
		t.Fatal("expected MarkCompleted to find the attempt")
	}
	if completed.Phase != PhaseCompleted {
		t.Errorf("phase after complete = %q, want %q", completed.Phase, PhaseCompleted)
	}
	if completed.Request != req {
		t.Errorf("completed attempt request = %+v, want %+v", completed.Request, req)
	}

	tr.MarkMaterializing("build-acme-price-alert-a1b2c3d4")
	tr.MarkDone("build-acme-price-alert-a1b2c3d4")

	got, _ = tr.ByJob("build-acme-price-alert-a1b2c3d4")
	if got.Phase != PhaseDone {
		t.Errorf("final phase = %q, want %q", got.Phase, PhaseDone)
	}
	if !got.Phase.Terminal() {
		t.Error("Done should be terminal")
	}
}

func TestMarkFailedBeforeSubmission(t *testing.T) {
	tr := New()
	tr.Accept(build.Request{ThirdPartyID: "acme", ParserID: "p1", ID: "req-1"})

	tr.MarkFailed("req-1", errors.New("fetching source: no such key"))

	atts := tr.ForHandler("acme", "p1")
	if len(atts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(atts))
	}
	if atts[0].Phase != PhaseFailed {
		t.Errorf("phase = %q, want %q", atts[0].Phase, PhaseFailed)
	}
	if atts[0].Error != "fetching source: no such key" {
		t.Errorf("error = %q, want the pipeline error", atts[0].Error)
	}
	if atts[0].JobName != "" {
		t.Errorf("job name = %q, want empty before submission", atts[0].JobName)
	}
}

func TestFailJob(t *testing.T) {
	tr := New()
	tr.Accept(build.Request{ThirdPartyID: "acme", ParserID: "p1", ID: "req-1"})
	tr.MarkSubmitted("req-1", "build-acme-p1-11111111", "img")

	tr.FailJob("build-acme-p1-11111111", errors.New("materializing: apply failed"))

	got, ok := tr.ByJob("build-acme-p1-11111111")
	if !ok {
		t.Fatal("expected attempt to stay queryable after failure")
	}
	if got.Phase != PhaseFailed {
		t.Errorf("phase = %q, want %q", got.Phase, PhaseFailed)
	}
	if got.Error == "" {
		t.Error("expected error to be recorded")
	}
}

func TestMarkCompletedUnknownJob(t *testing.T) {
	tr := New()
	if _, ok := tr.MarkCompleted("build-never-submitted-00000000"); ok {
		t.Error("expected MarkCompleted to miss for an unknown job")
	}
}

func TestMarkCompletedIsOneShot(t *testing.T) {
	tr := New()
	req := build.Request{ThirdPartyID: "acme", ParserID: "p1", ID: "req-dup"}
	tr.Accept(req)
	tr.MarkSubmitted("req-dup", "build-acme-p1-33333333", "img")

	if _, ok := tr.MarkCompleted("build-acme-p1-33333333"); !ok {
		t.Fatal("expected first completion to transition")
	}

	att, ok := tr.MarkCompleted("build-acme-p1-33333333")
	if ok {
		t.Error("expected duplicate completion to be rejected")
	}
	if att.JobName != "build-acme-p1-33333333" {
		t.Errorf("duplicate completion snapshot = %+v, want the tracked attempt", att)
	}

	tr.MarkMaterializing("build-acme-p1-33333333")
	if _, ok := tr.MarkCompleted("build-acme-p1-33333333"); ok {
		t.Error("expected completion during materialization to be rejected")
	}
}

func TestAdopt(t *testing.T) {
	tr := New()
	req := build.Request{ThirdPartyID: "acme", ParserID: "p1", ID: "req-recovered"}

	att := tr.Adopt(req, "build-acme-p1-22222222")
	if att.Phase != PhaseCompleted {
		t.Errorf("adopted phase = %q, want %q", att.Phase, PhaseCompleted)
	}

	got, ok := tr.ByJob("build-acme-p1-22222222")
	if !ok {
		t.Fatal("expected adopted attempt to be indexed by job name")
	}
	if got.Request != req {
		t.Errorf("adopted request = %+v, want %+v", got.Request, req)
	}
}

func TestUnknownIDsIgnored(t *testing.T) {
	tr := New()
	tr.MarkSubmitted("nope", "job", "img")
	tr.MarkFailed("nope", errors.New("boom"))
	tr.MarkMaterializing("job")
	tr.MarkDone("job")
	tr.FailJob("job", errors.New("boom"))

	if got := tr.All(); len(got) != 0 {
		t.Errorf("expected no attempts, got %d", len(got))
	}
}

func TestForHandlerFiltersAndOrders(t *testing.T) {
	tr := New()
	tr.Accept(build.Request{ThirdPartyID: "acme", ParserID: "p1", ID: "req-1"})
	tr.Accept(build.Request{ThirdPartyID: "acme", ParserID: "p2", ID: "req-2"})
	tr.Accept(build.Request{ThirdPartyID: "other", ParserID: "p1", ID: "req-3"})

	// Force distinct start times so the ordering is observable.
	tr.mu.Lock()
	tr.byID["req-1"].StartedAt = time.Now().Add(-2 * time.Minute)
	tr.mu.Unlock()
	tr.Accept(build.Request{ThirdPartyID: "acme", ParserID: "p1", ID: "req-4"})

	atts := tr.ForHandler("acme", "p1")
	if len(atts) != 2 {
		t.Fatalf("expected 2 attempts for acme/p1, got %d", len(atts))
	}
	if atts[0].Request.ID != "req-4" || atts[1].Request.ID != "req-1" {
		t.Errorf("attempts not newest-first: got %s, %s", atts[0].Request.ID, atts[1].Request.ID)
	}

	if all := tr.All(); len(all) != 4 {
		t.Errorf("expected 4 attempts in total, got %d", len(all))
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	tr := New()
	tr.Accept(build.Request{ThirdPartyID: "acme", ParserID: "p1", ID: "req-1"})
	tr.MarkSubmitted("req-1", "build-acme-p1-33333333", "img")

	got, _ := tr.ByJob("build-acme-p1-33333333")
	got.Phase = PhaseFailed
	got.Error = "mutated"

	again, _ := tr.ByJob("build-acme-p1-33333333")
	if again.Phase != PhaseSubmitted || again.Error != "" {
		t.Error("mutating a snapshot must not affect the tracked attempt")
	}
}

func TestPruneRetention(t *testing.T) {
	tr := New()

	tr.Accept(build.Request{ThirdPartyID: "acme", ParserID: "old-done", ID: "req-old"})
	tr.MarkSubmitted("req-old", "build-acme-old-done-44444444", "img")
	tr.MarkDone("build-acme-old-done-44444444")

	tr.Accept(build.Request{ThirdPartyID: "acme", ParserID: "old-running", ID: "req-stuck"})
	tr.MarkSubmitted("req-stuck", "build-acme-old-running-55555555", "img")

	// Backdate both past the retention window.
	tr.mu.Lock()
	tr.byID["req-old"].UpdatedAt = time.Now().Add(-retention - time.Hour)
	tr.byID["req-stuck"].UpdatedAt = time.Now().Add(-retention - time.Hour)
	tr.mu.Unlock()

	// Accepting a new attempt triggers the prune.
	tr.Accept(build.Request{ThirdPartyID: "acme", ParserID: "fresh", ID: "req-new"})

	if _, ok := tr.ByJob("build-acme-old-done-44444444"); ok {
		t.Error("expected terminal attempt past retention to be pruned")
	}
	if _, ok := tr.ByJob("build-acme-old-running-55555555"); !ok {
		t.Error("non-terminal attempts must survive pruning regardless of age")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", n)
			job := fmt.Sprintf("build-acme-p1-%08d", n)
			tr.Accept(build.Request{ThirdPartyID: "acme", ParserID: "p1", ID: id})
			tr.MarkSubmitted(id, job, "img")
			tr.ByJob(job)
			tr.ForHandler("acme", "p1")
			tr.MarkCompleted(job)
			tr.MarkDone(job)
		}(i)
	}
	wg.Wait()

	if got := len(tr.All()); got != 50 {
		t.Errorf("expected 50 attempts after concurrent use, got %d", got)
	}
}
