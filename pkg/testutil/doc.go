// Package testutil provides test utilities for exercising Kubernetes API
// interactions without a live apiserver. The main support is a fake client
// wrapper that injects failures into individual operations.
//
// Example:
//
//	k8s := testutil.NewFakeClientWithFailures(
//	    fake.NewClientBuilder().WithScheme(scheme).Build(),
//	    &testutil.FailureConfig{
//	        OnCreate: func(obj client.Object) error { return testutil.ErrInjected },
//	    },
//	)
//
// Hooks receive the object or key for the operation, so a test can fail one
// specific create while every other call proceeds against the underlying
// fake client.
package testutil
