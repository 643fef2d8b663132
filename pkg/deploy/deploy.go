// Package deploy materializes a built handler image as a running Knative
// Service plus the Trigger subscribing it to its tenant's events.
package deploy

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"

	eventingv1 "github.com/notifi-network/lambda-manager/api/eventing/v1"
	servingv1 "github.com/notifi-network/lambda-manager/api/serving/v1"
	"github.com/notifi-network/lambda-manager/pkg/build"
	"github.com/notifi-network/lambda-manager/pkg/gateway"
	"github.com/notifi-network/lambda-manager/pkg/util/metadata"
)

// Delivery defaults applied when the trigger template leaves delivery unset.
const (
	defaultBroker        = "default"
	defaultRetry         = int32(5)
	defaultBackoffPolicy = "exponential"
	defaultBackoffDelay  = "PT1S"
)

// ServiceName returns the deterministic Service name for a handler. The same
// pair always maps to the same name so each rebuild replaces the previous
// deployment instead of leaking a new one.
func ServiceName(tenant, handler string) string {
	return fmt.Sprintf("lambda-%s-%s", tenant, handler)
}

// TriggerName returns the deterministic Trigger name for a handler.
func TriggerName(tenant, handler string) string {
	return ServiceName(tenant, handler) + "-trigger"
}

// EventSourceFor returns the CloudEvents source attribute the handler's
// trigger filters on.
func EventSourceFor(tenant, handler string) string {
	return fmt.Sprintf("network.notifi.parsers.%s.%s", tenant, handler)
}

// serviceParams and triggerParams are template contracts; operators
// referencing these fields in custom templates rely on the exact spellings.
type serviceParams struct {
	ThirdPartyId string
	ParserId     string
	Image        string
}

type triggerParams struct {
	ThirdPartyId string
	ParserId     string
}

// Deployer renders and applies the Service and Trigger for a handler.
type Deployer struct {
	Gateway         *gateway.Gateway
	ServiceTemplate *template.Template
	TriggerTemplate *template.Template

	// Namespace receives materialized objects when a template does not pin
	// one.
	Namespace string
}

// LoadTemplates parses the service and trigger templates. It runs at startup
// so a broken template fails the process before any build is accepted.
func LoadTemplates(servicePath, triggerPath string) (*template.Template, *template.Template, error) {
	service, err := template.ParseFiles(servicePath)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing service template %s: %w", servicePath, err)
	}
	trigger, err := template.ParseFiles(triggerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing trigger template %s: %w", triggerPath, err)
	}
	return service, trigger, nil
}

// Deploy replaces the handler's Service with one running image and re-applies
// its Trigger. Names are deterministic and apply is delete-then-create, so
// repeating a deploy for the same pair converges on the latest image.
func (d *Deployer) Deploy(ctx context.Context, req build.Request, image string) error {
	svc, err := d.renderService(req, image)
	if err != nil {
		return err
	}
	trg, err := d.renderTrigger(req)
	if err != nil {
		return err
	}

	if err := d.Gateway.Apply(ctx, svc); err != nil {
		return fmt.Errorf("materializing service %s: %w", svc.Name, err)
	}
	if err := d.Gateway.Apply(ctx, trg); err != nil {
		return fmt.Errorf("materializing trigger %s: %w", trg.Name, err)
	}

	log.FromContext(ctx).Info("handler materialized",
		"service", svc.Name, "trigger", trg.Name, "image", image)
	return nil
}

func (d *Deployer) renderService(req build.Request, image string) (*servingv1.Service, error) {
	params := serviceParams{
		ThirdPartyId: req.ThirdPartyID,
		ParserId:     req.ParserID,
		Image:        image,
	}

	var buf bytes.Buffer
	if err := d.ServiceTemplate.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("rendering service template: %w", err)
	}

	svc := &servingv1.Service{}
	if err := yaml.Unmarshal(buf.Bytes(), svc); err != nil {
		return nil, fmt.Errorf("decoding rendered service manifest: %w", err)
	}
	d.defaultService(svc, req, image)
	return svc, nil
}

func (d *Deployer) renderTrigger(req build.Request) (*eventingv1.Trigger, error) {
	params := triggerParams{
		ThirdPartyId: req.ThirdPartyID,
		ParserId:     req.ParserID,
	}

	var buf bytes.Buffer
	if err := d.TriggerTemplate.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("rendering trigger template: %w", err)
	}

	trg := &eventingv1.Trigger{}
	if err := yaml.Unmarshal(buf.Bytes(), trg); err != nil {
		return nil, fmt.Errorf("decoding rendered trigger manifest: %w", err)
	}
	d.defaultTrigger(trg, req)
	return trg, nil
}

// defaultService fills in anything the template left unset. A sparse
// template still yields a deployable Service running the built image.
func (d *Deployer) defaultService(svc *servingv1.Service, req build.Request, image string) {
	if svc.Name == "" {
		svc.Name = ServiceName(req.ThirdPartyID, req.ParserID)
	}
	if svc.Namespace == "" {
		svc.Namespace = d.Namespace
	}
	if len(svc.Spec.Template.Spec.Containers) == 0 {
		svc.Spec.Template.Spec.Containers = []corev1.Container{{Image: image}}
	}

	labels := metadata.BuildStandardLabels(svc.Name, metadata.ComponentHandler)
	labels = metadata.AddTenantLabel(labels, req.ThirdPartyID)
	labels = metadata.AddHandlerLabel(labels, req.ParserID)
	svc.Labels = metadata.MergeLabels(labels, svc.Labels)
}

// defaultTrigger fills in the subscription invariants: every handler trigger
// filters on its pair's event source and delivers to its own Service.
func (d *Deployer) defaultTrigger(trg *eventingv1.Trigger, req build.Request) {
	if trg.Name == "" {
		trg.Name = TriggerName(req.ThirdPartyID, req.ParserID)
	}
	if trg.Namespace == "" {
		trg.Namespace = d.Namespace
	}
	if trg.Spec.Broker == "" {
		trg.Spec.Broker = defaultBroker
	}

	if trg.Spec.Filter == nil {
		trg.Spec.Filter = &eventingv1.TriggerFilter{}
	}
	if trg.Spec.Filter.Attributes == nil {
		trg.Spec.Filter.Attributes = map[string]string{}
	}
	if trg.Spec.Filter.Attributes["source"] == "" {
		trg.Spec.Filter.Attributes["source"] = EventSourceFor(req.ThirdPartyID, req.ParserID)
	}

	if trg.Spec.Subscriber.Ref == nil && trg.Spec.Subscriber.URI == "" {
		trg.Spec.Subscriber.Ref = &eventingv1.KReference{
			APIVersion: servingv1.GroupVersion.String(),
			Kind:       "Service",
			Name:       ServiceName(req.ThirdPartyID, req.ParserID),
		}
	}

	if trg.Spec.Delivery == nil {
		trg.Spec.Delivery = &eventingv1.DeliverySpec{
			Retry:         ptr.To(defaultRetry),
			BackoffPolicy: ptr.To(defaultBackoffPolicy),
			BackoffDelay:  ptr.To(defaultBackoffDelay),
		}
	}

	labels := metadata.BuildStandardLabels(trg.Name, metadata.ComponentTrigger)
	labels = metadata.AddTenantLabel(labels, req.ThirdPartyID)
	labels = metadata.AddHandlerLabel(labels, req.ParserID)
	trg.Labels = metadata.MergeLabels(labels, trg.Labels)
}
