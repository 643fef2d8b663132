package receiver

import (
	"context"
	"net/http"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/go-cmp/cmp"

	"github.com/notifi-network/lambda-manager/pkg/build"
	"github.com/notifi-network/lambda-manager/pkg/tracker"
	"github.com/notifi-network/lambda-manager/pkg/watcher"
)

type fakeRunner struct {
	mu   sync.Mutex
	err  error
	runs []build.Request
}

func (f *fakeRunner) Run(_ context.Context, req build.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, req)
	return f.err
}

func (f *fakeRunner) dispatched() []build.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]build.Request(nil), f.runs...)
}

type fakeUpdateSink struct {
	mu      sync.Mutex
	updates []watcher.ResourceUpdate
}

func (f *fakeUpdateSink) HandleUpdate(_ context.Context, u watcher.ResourceUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

func (f *fakeUpdateSink) received() []watcher.ResourceUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]watcher.ResourceUpdate(nil), f.updates...)
}

type receiverFixture struct {
	tracker *tracker.Tracker
	runner  *fakeRunner
	sink    *fakeUpdateSink
	recv    *Receiver
}

func newReceiverFixture() *receiverFixture {
	f := &receiverFixture{
		tracker: tracker.New(),
		runner:  &fakeRunner{},
		sink:    &fakeUpdateSink{},
	}
	f.recv = &Receiver{
		Tracker:  f.tracker,
		Pipeline: f.runner,
		Updates:  f.sink,
	}
	return f
}

func newEvent(t *testing.T, eventType, data string) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetSource("https://admin.notifi.network/lambdas")
	e.SetType(eventType)
	if err := e.SetData(cloudevents.ApplicationJSON, []byte(data)); err != nil {
		t.Fatalf("SetData() unexpected error: %v", err)
	}
	return e
}

func TestBuildStartDispatchesPipeline(t *testing.T) {
	t.Parallel()

	f := newReceiverFixture()
	e := newEvent(t, TypeBuildStart, `{"thirdPartyId":"acme","parserId":"parser-1","id":"req-1"}`)

	result := f.recv.handle(context.Background(), e)
	if !cloudevents.IsACK(result) {
		t.Fatalf("build start result = %v, want ACK", result)
	}
	f.recv.Drain()

	want := []build.Request{{ThirdPartyID: "acme", ParserID: "parser-1", ID: "req-1"}}
	if diff := cmp.Diff(want, f.runner.dispatched()); diff != "" {
		t.Errorf("dispatched requests mismatch (-want +got):\n%s", diff)
	}

	attempts := f.tracker.All()
	if len(attempts) != 1 {
		t.Fatalf("tracked attempts = %d, want 1", len(attempts))
	}
	if attempts[0].Phase != tracker.PhaseAccepted {
		t.Errorf("attempt phase = %q, want %q", attempts[0].Phase, tracker.PhaseAccepted)
	}
	if diff := cmp.Diff(want[0], attempts[0].Request); diff != "" {
		t.Errorf("tracked request mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildStartAssignsRequestID(t *testing.T) {
	t.Parallel()

	f := newReceiverFixture()
	e := newEvent(t, TypeBuildStart, `{"thirdPartyId":"acme","parserId":"parser-1"}`)

	if result := f.recv.handle(context.Background(), e); !cloudevents.IsACK(result) {
		t.Fatalf("build start result = %v, want ACK", result)
	}
	f.recv.Drain()

	runs := f.runner.dispatched()
	if len(runs) != 1 {
		t.Fatalf("dispatched requests = %d, want 1", len(runs))
	}
	if runs[0].ID == "" {
		t.Error("dispatched request has no ID assigned")
	}
}

func TestBuildStartMalformedIsNACKed(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing tenant":  `{"parserId":"parser-1"}`,
		"missing handler": `{"thirdPartyId":"acme"}`,
		"not json":        `{{`,
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newReceiverFixture()
			result := f.recv.handle(context.Background(), newEvent(t, TypeBuildStart, data))
			if cloudevents.IsACK(result) {
				t.Fatal("malformed build request must not be acknowledged")
			}
			var httpResult *cehttp.Result
			if !cloudevents.ResultAs(result, &httpResult) {
				t.Fatalf("result %v is not an HTTP protocol result", result)
			}
			if httpResult.StatusCode != http.StatusBadRequest {
				t.Errorf("result status = %d, want %d", httpResult.StatusCode, http.StatusBadRequest)
			}

			f.recv.Drain()
			if got := len(f.runner.dispatched()); got != 0 {
				t.Errorf("dispatched requests = %d, want 0", got)
			}
			if got := len(f.tracker.All()); got != 0 {
				t.Errorf("tracked attempts = %d, want 0", got)
			}
		})
	}
}

func TestResourceUpdateForwardedToWatcher(t *testing.T) {
	t.Parallel()

	f := newReceiverFixture()
	e := newEvent(t, TypeResourceUpdate,
		`{"kind":"Job","name":"build-acme-parser-1-a1b2c3d4","status":{"conditions":[{"type":"Complete","status":"True"}]}}`)

	if result := f.recv.handle(context.Background(), e); !cloudevents.IsACK(result) {
		t.Fatalf("resource update result = %v, want ACK", result)
	}

	want := []watcher.ResourceUpdate{{
		Kind: "Job",
		Name: "build-acme-parser-1-a1b2c3d4",
		Status: &watcher.UpdateStatus{Conditions: []watcher.UpdateCondition{
			{Type: "Complete", Status: "True"},
		}},
	}}
	if diff := cmp.Diff(want, f.sink.received()); diff != "" {
		t.Errorf("forwarded updates mismatch (-want +got):\n%s", diff)
	}
}

func TestResourceUpdateMalformedStillAcked(t *testing.T) {
	t.Parallel()

	f := newReceiverFixture()
	e := newEvent(t, TypeResourceUpdate, `{"name":"something"}`)

	if result := f.recv.handle(context.Background(), e); !cloudevents.IsACK(result) {
		t.Fatalf("malformed resource update result = %v, want ACK to stop redelivery", result)
	}
	if got := len(f.sink.received()); got != 0 {
		t.Errorf("forwarded updates = %d, want 0", got)
	}
}

func TestUnrelatedEventTypeAcked(t *testing.T) {
	t.Parallel()

	f := newReceiverFixture()
	e := newEvent(t, "com.example.ping", `{}`)

	if result := f.recv.handle(context.Background(), e); !cloudevents.IsACK(result) {
		t.Fatalf("unrelated event result = %v, want ACK", result)
	}
	f.recv.Drain()

	if got := len(f.runner.dispatched()); got != 0 {
		t.Errorf("dispatched requests = %d, want 0", got)
	}
	if got := len(f.sink.received()); got != 0 {
		t.Errorf("forwarded updates = %d, want 0", got)
	}
}
