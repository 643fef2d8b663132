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

package main

import (
	"context"
	"flag"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/dynamic"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	eventingv1 "github.com/notifi-network/lambda-manager/api/eventing/v1"
	servingv1 "github.com/notifi-network/lambda-manager/api/serving/v1"
	"github.com/notifi-network/lambda-manager/pkg/build"
	"github.com/notifi-network/lambda-manager/pkg/config"
	"github.com/notifi-network/lambda-manager/pkg/deploy"
	"github.com/notifi-network/lambda-manager/pkg/gateway"
	"github.com/notifi-network/lambda-manager/pkg/launcher"
	"github.com/notifi-network/lambda-manager/pkg/monitoring"
	"github.com/notifi-network/lambda-manager/pkg/receiver"
	"github.com/notifi-network/lambda-manager/pkg/registry"
	"github.com/notifi-network/lambda-manager/pkg/tracker"
	"github.com/notifi-network/lambda-manager/pkg/watcher"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")

	// version is stamped at build time.
	version = "dev"
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(servingv1.AddToScheme(scheme))
	utilruntime.Must(eventingv1.AddToScheme(scheme))
}

func main() {
	var receiverAddr string
	var statusAddr string

	flag.StringVar(&receiverAddr, "receiver-addr", ":8080", "The address the CloudEvents receiver binds to.")
	flag.StringVar(&statusAddr, "status-addr", ":8081", "The address the status endpoints bind to.")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg := config.FromEnv()

	ctx, cancel := context.WithCancel(ctrl.SetupSignalHandler())
	defer cancel()

	// 1. Tracing
	shutdownTracing, err := monitoring.InitTracing(ctx, "lambda-manager", version)
	if err != nil {
		setupLog.Error(err, "unable to initialize tracing")
		os.Exit(1)
	}

	// 2. AWS clients
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		setupLog.Error(err, "unable to load AWS configuration")
		os.Exit(1)
	}
	s3Client := s3.NewFromConfig(awsCfg)

	// 3. Kubernetes clients
	restCfg := ctrl.GetConfigOrDie()
	k8sClient, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		setupLog.Error(err, "unable to create kubernetes client")
		os.Exit(1)
	}
	dynClient, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		setupLog.Error(err, "unable to create dynamic client")
		os.Exit(1)
	}
	gw := gateway.New(k8sClient, dynClient)

	// 4. Templates are parsed up front so a bad deployment fails here, not
	// on the first build.
	jobTemplate, err := launcher.LoadTemplate(cfg.JobTemplatePath)
	if err != nil {
		setupLog.Error(err, "unable to load job template")
		os.Exit(1)
	}
	serviceTemplate, triggerTemplate, err := deploy.LoadTemplates(cfg.ServiceTemplatePath, cfg.TriggerTemplatePath)
	if err != nil {
		setupLog.Error(err, "unable to load deploy templates")
		os.Exit(1)
	}
	contextBuilder, err := build.NewContextBuilder(cfg.TemplatesDir)
	if err != nil {
		setupLog.Error(err, "unable to load build context templates")
		os.Exit(1)
	}

	// 5. Wire the pipeline and the watcher
	builds := tracker.New()

	provisioner := &registry.Provisioner{
		ECR:          ecr.NewFromConfig(awsCfg),
		STS:          sts.NewFromConfig(awsCfg),
		Region:       awsCfg.Region,
		BaseRegistry: cfg.BaseRegistry,
	}

	pipeline := &build.Pipeline{
		Fetcher:  &build.SourceFetcher{S3: s3Client, Config: cfg},
		Context:  contextBuilder,
		Uploader: manager.NewUploader(s3Client),
		Registry: provisioner,
		Launcher: &launcher.Launcher{
			Gateway:  gw,
			Template: jobTemplate,
			Config:   cfg,
			Region:   awsCfg.Region,
		},
		Status: builds,
		Config: cfg,
	}

	updates := &watcher.Watcher{
		Tracker: builds,
		Deployer: &deploy.Deployer{
			Gateway:         gw,
			ServiceTemplate: serviceTemplate,
			TriggerTemplate: triggerTemplate,
			Namespace:       cfg.BuildNamespace,
		},
		Registry: provisioner,
	}

	// 6. Serve until signalled, then drain
	recv := &receiver.Receiver{
		Addr:     receiverAddr,
		Tracker:  builds,
		Pipeline: pipeline,
		Updates:  updates,
	}
	status := &receiver.StatusServer{
		Addr:    statusAddr,
		Tracker: builds,
	}

	serverErr := make(chan error, 2)
	go func() { serverErr <- recv.Start(ctx) }()
	go func() { serverErr <- status.Start(ctx) }()

	setupLog.Info("lambda manager started",
		"receiver", receiverAddr, "status", statusAddr, "buildNamespace", cfg.BuildNamespace)

	exitCode := 0
	for range 2 {
		if err := <-serverErr; err != nil {
			setupLog.Error(err, "server stopped")
			exitCode = 1
			cancel()
		}
	}

	setupLog.Info("draining in-flight work")
	recv.Drain()
	updates.Drain()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := shutdownTracing(flushCtx); err != nil {
		setupLog.Error(err, "flushing traces on shutdown")
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
