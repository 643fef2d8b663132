// Package gateway is the manager's single door to the Kubernetes API.
// Apply replaces an object by deleting any existing copy, waiting for the
// deletion to finish, and recreating from the manifest, which keeps
// materialization idempotent without three-way patch semantics. Kinds the
// scheme does not recognize fall back to the dynamic client.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Timeouts for the delete-then-create sequence. Deletes are asynchronous,
// so Apply polls until the old object is actually gone before recreating.
const (
	applyTimeout = 90 * time.Second
	pollInterval = 500 * time.Millisecond
)

// ErrAlreadyExists reports that a create hit an object that already exists.
// Build Jobs carry unique names, so an existing Job means a name collision
// rather than something to retry.
type ErrAlreadyExists struct {
	Kind      string
	Namespace string
	Name      string
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s %s/%s already exists", e.Kind, e.Namespace, e.Name)
}

// IsAlreadyExists reports whether err is an ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	var target *ErrAlreadyExists
	return errors.As(err, &target)
}

// Gateway wraps typed and dynamic Kubernetes clients behind the small set
// of operations the manager performs.
type Gateway struct {
	client  client.Client
	dynamic dynamic.Interface
}

// New returns a Gateway over the given clients. dyn may be nil when no
// unknown-kind objects will ever be applied.
func New(c client.Client, dyn dynamic.Interface) *Gateway {
	return &Gateway{client: c, dynamic: dyn}
}

// Apply replaces obj in the cluster: any existing object with the same
// kind, namespace, and name is deleted and waited out, then obj is created
// fresh from the manifest.
func (g *Gateway) Apply(ctx context.Context, obj client.Object) error {
	ctx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	logger := log.FromContext(ctx).WithValues(
		"kind", kindOf(obj),
		"namespace", obj.GetNamespace(),
		"name", obj.GetName(),
	)

	deleted, err := g.deleteExisting(ctx, obj)
	if err != nil {
		return err
	}
	if deleted {
		logger.V(1).Info("deleted existing object, waiting for it to go away")
		if err := g.waitGone(ctx, obj); err != nil {
			return fmt.Errorf("waiting for %s %s/%s to be deleted: %w",
				kindOf(obj), obj.GetNamespace(), obj.GetName(), err)
		}
	}

	logger.V(1).Info("creating object")
	return g.Create(ctx, obj)
}

// Create submits obj without replacing anything. An apiserver AlreadyExists
// answer is converted to ErrAlreadyExists so callers can branch on it.
func (g *Gateway) Create(ctx context.Context, obj client.Object) error {
	var err error
	if u, ok := g.unknownKind(obj); ok {
		err = g.dynamicCreate(ctx, u)
	} else {
		err = g.client.Create(ctx, obj)
	}
	if apierrors.IsAlreadyExists(err) {
		return &ErrAlreadyExists{
			Kind:      kindOf(obj),
			Namespace: obj.GetNamespace(),
			Name:      obj.GetName(),
		}
	}
	if err != nil {
		return fmt.Errorf("creating %s %s/%s: %w",
			kindOf(obj), obj.GetNamespace(), obj.GetName(), err)
	}
	return nil
}

// Get reads an object by key through the typed client.
func (g *Gateway) Get(ctx context.Context, key client.ObjectKey, obj client.Object) error {
	return g.client.Get(ctx, key, obj)
}

// List lists objects through the typed client.
func (g *Gateway) List(ctx context.Context, list client.ObjectList, opts ...client.ListOption) error {
	return g.client.List(ctx, list, opts...)
}

// deleteExisting removes any current copy of obj, tolerating absence.
// The bool reports whether something was actually deleted.
func (g *Gateway) deleteExisting(ctx context.Context, obj client.Object) (bool, error) {
	var err error
	if u, ok := g.unknownKind(obj); ok {
		err = g.dynamicDelete(ctx, u)
	} else {
		err = g.client.Delete(ctx, obj)
	}
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deleting existing %s %s/%s: %w",
			kindOf(obj), obj.GetNamespace(), obj.GetName(), err)
	}
	return true, nil
}

// waitGone polls until the object stops being readable. The apiserver
// acknowledges deletes before finalizers run, so a create immediately after
// delete can race the old object.
func (g *Gateway) waitGone(ctx context.Context, obj client.Object) error {
	check := func(ctx context.Context) (bool, error) {
		var err error
		if u, ok := g.unknownKind(obj); ok {
			err = g.dynamicGet(ctx, u)
		} else {
			probe := obj.DeepCopyObject().(client.Object)
			err = g.client.Get(ctx, client.ObjectKeyFromObject(obj), probe)
		}
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return false, nil
	}
	return wait.PollUntilContextCancel(ctx, pollInterval, true, check)
}

// unknownKind reports whether obj must go through the dynamic client: an
// unstructured object whose GroupVersionKind the typed client's scheme does
// not recognize.
func (g *Gateway) unknownKind(obj client.Object) (*unstructured.Unstructured, bool) {
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		return nil, false
	}
	if g.client.Scheme().Recognizes(u.GroupVersionKind()) {
		return nil, false
	}
	return u, true
}

func (g *Gateway) dynamicCreate(ctx context.Context, u *unstructured.Unstructured) error {
	res, err := g.dynamicResource(u)
	if err != nil {
		return err
	}
	_, err = res.Create(ctx, u, metav1.CreateOptions{})
	return err
}

func (g *Gateway) dynamicDelete(ctx context.Context, u *unstructured.Unstructured) error {
	res, err := g.dynamicResource(u)
	if err != nil {
		return err
	}
	return res.Delete(ctx, u.GetName(), metav1.DeleteOptions{})
}

func (g *Gateway) dynamicGet(ctx context.Context, u *unstructured.Unstructured) error {
	res, err := g.dynamicResource(u)
	if err != nil {
		return err
	}
	_, err = res.Get(ctx, u.GetName(), metav1.GetOptions{})
	return err
}

// dynamicResource resolves the dynamic handle for u, deriving the resource
// name from the kind since no discovery data is available for unknown kinds.
func (g *Gateway) dynamicResource(u *unstructured.Unstructured) (dynamic.ResourceInterface, error) {
	if g.dynamic == nil {
		return nil, fmt.Errorf("kind %q is not in the scheme and no dynamic client is configured", u.GetKind())
	}
	gvr := ResourceFor(u.GroupVersionKind())
	if ns := u.GetNamespace(); ns != "" {
		return g.dynamic.Resource(gvr).Namespace(ns), nil
	}
	return g.dynamic.Resource(gvr), nil
}

// kindOf returns a readable kind for an object, preferring TypeMeta and
// falling back to the Go type name.
func kindOf(obj client.Object) string {
	if kind := obj.GetObjectKind().GroupVersionKind().Kind; kind != "" {
		return kind
	}
	t := fmt.Sprintf("%T", obj)
	t = strings.TrimPrefix(t, "*")
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	return t
}
