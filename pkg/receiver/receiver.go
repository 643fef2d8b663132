// Package receiver is the event-facing edge of the manager: a CloudEvents
// HTTP endpoint that routes build-start events into the build pipeline and
// resource-status events into the watcher, plus a status server for probes,
// metrics, and build attempt listings.
package receiver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/notifi-network/lambda-manager/pkg/build"
	"github.com/notifi-network/lambda-manager/pkg/monitoring"
	"github.com/notifi-network/lambda-manager/pkg/tracker"
	"github.com/notifi-network/lambda-manager/pkg/watcher"
)

// Event types the receiver routes. Anything else is acknowledged and
// dropped so unrelated broker traffic cannot pile up redeliveries.
const (
	TypeBuildStart     = "network.notifi.lambda.build.start"
	TypeResourceUpdate = "dev.knative.apiserver.resource.update"
)

// Dispatcher runs one accepted build request to completion.
type Dispatcher interface {
	Run(ctx context.Context, req build.Request) error
}

// UpdateSink consumes parsed resource updates.
type UpdateSink interface {
	HandleUpdate(ctx context.Context, u watcher.ResourceUpdate)
}

// Receiver serves the CloudEvents endpoint and fans events out to the
// build pipeline and the watcher.
type Receiver struct {
	Addr     string
	Tracker  *tracker.Tracker
	Pipeline Dispatcher
	Updates  UpdateSink

	wg sync.WaitGroup
}

// Start listens on Addr and serves events until ctx is cancelled. The
// transport drains in-flight deliveries on shutdown; call Drain afterwards
// to wait for builds dispatched in the background.
func (r *Receiver) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", r.Addr, err)
	}
	p, err := cloudevents.NewHTTP(cehttp.WithListener(ln))
	if err != nil {
		return fmt.Errorf("building cloudevents transport: %w", err)
	}
	c, err := cloudevents.NewClient(p)
	if err != nil {
		return fmt.Errorf("building cloudevents client: %w", err)
	}

	log.FromContext(ctx).Info("event receiver listening", "addr", ln.Addr().String())
	if err := c.StartReceiver(ctx, r.handle); err != nil {
		return fmt.Errorf("serving cloudevents receiver: %w", err)
	}
	return nil
}

// Drain blocks until background build dispatches finish.
func (r *Receiver) Drain() {
	r.wg.Wait()
}

func (r *Receiver) handle(ctx context.Context, e cloudevents.Event) cloudevents.Result {
	switch e.Type() {
	case TypeBuildStart:
		return r.handleBuildStart(ctx, e)
	case TypeResourceUpdate:
		return r.handleResourceUpdate(ctx, e)
	default:
		log.FromContext(ctx).V(1).Info("ignoring event",
			"type", e.Type(), "source", e.Source())
		return cloudevents.ResultACK
	}
}

// handleBuildStart acknowledges before the build runs; from acceptance on,
// the attempt record carries the outcome. A malformed payload is NACKed
// with a protocol error so the sender sees the delivery fail.
func (r *Receiver) handleBuildStart(ctx context.Context, e cloudevents.Event) cloudevents.Result {
	req, err := build.ParseRequest(e.Data())
	if err != nil {
		log.FromContext(ctx).Error(err, "rejecting malformed build request", "event", e.ID())
		return cloudevents.NewHTTPResult(http.StatusBadRequest, "malformed build request: %s", err)
	}

	logger := log.FromContext(ctx).WithValues(
		"request", req.ID,
		"tenant", req.ThirdPartyID,
		"handler", req.ParserID,
	)

	r.Tracker.Accept(req)
	monitoring.RecordBuildStarted(req.ThirdPartyID)
	logger.Info("accepted build request")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Run records failures on the tracker and in the log.
		_ = r.Pipeline.Run(log.IntoContext(context.Background(), logger), req)
	}()
	return cloudevents.ResultACK
}

// handleResourceUpdate always acknowledges: status events are observations,
// and redelivering a malformed one cannot make it parseable.
func (r *Receiver) handleResourceUpdate(ctx context.Context, e cloudevents.Event) cloudevents.Result {
	u, err := watcher.ParseUpdate(e.Data())
	if err != nil {
		log.FromContext(ctx).Error(err, "dropping malformed resource update", "event", e.ID())
		return cloudevents.ResultACK
	}
	r.Updates.HandleUpdate(ctx, u)
	return cloudevents.ResultACK
}
