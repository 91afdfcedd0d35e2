/*
Copyright 2024 Blnk Finance Authors.

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
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/banklink/banklink"
	"github.com/banklink/banklink/api"
	"github.com/banklink/banklink/config"
	"github.com/banklink/banklink/internal/notification"
	"github.com/banklink/banklink/internal/traces"
)

const shutdownTimeout = 10 * time.Second

// serveTLS serves router over HTTPS with certificates managed by CertMagic.
// Without a configured domain the certificate is issued for localhost.
func serveTLS(ctx context.Context, r http.Handler, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}
	if err := cfg.ManageSync(ctx, domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}
	log.Printf("Starting HTTPS server on %s\n", conf.Port)
	return serveUntilDone(ctx, server, func() error { return server.ListenAndServeTLS("", "") })
}

func serve(ctx context.Context, r http.Handler, conf config.ServerConfig) error {
	server := &http.Server{Addr: ":" + conf.Port, Handler: r}
	log.Printf("Starting server on http://localhost:%s", conf.Port)
	return serveUntilDone(ctx, server, server.ListenAndServe)
}

// serveUntilDone runs listen until ctx is canceled, then drains in-flight
// requests.
func serveUntilDone(ctx context.Context, server *http.Server, listen func() error) error {
	errs := make(chan error, 1)
	go func() {
		errs <- listen()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newScheduler builds the sync scheduler from the scheduler config.
func newScheduler(b *banklinkInstance) *banklink.Scheduler {
	policy := banklink.DefaultRetryPolicy()
	policy.MaxAttempts = b.cnf.Scheduler.MaxAttempts
	policy.InitialInterval = time.Duration(b.cnf.Scheduler.InitialBackoffSec) * time.Second

	opts := []banklink.SchedulerOption{
		banklink.WithRetryPolicy(policy),
		banklink.WithLogger(logrus.WithField("component", "scheduler")),
	}
	if url := b.cnf.Notification.Slack.WebhookUrl; url != "" {
		opts = append(opts, banklink.WithFailureNotifier(notification.NewSlackNotifier(url, b.cnf.ProjectName)))
	}
	return banklink.NewScheduler(b.banklink, b.banklink.Datasource(), opts...)
}

func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	return traces.SetupOTelSDK(ctx, "banklink")
}

func initializeRouter(b *banklinkInstance, s *banklink.Scheduler) (*gin.Engine, error) {
	a := api.NewAPI(b.banklink, s)
	if a == nil {
		return nil, errors.New("api configuration is not loaded")
	}
	return a.Router(), nil
}

// startScheduler arms the configured schedule and, when enabled, catches
// up on accounts that went stale while the service was down.
func startScheduler(ctx context.Context, b *banklinkInstance, s *banklink.Scheduler) {
	if b.cnf.Scheduler.StartupCheck {
		go func() {
			if _, err := s.RunStartupCheck(ctx); err != nil {
				logrus.WithError(err).Warn("startup sync check failed")
			}
		}()
	}

	if !b.cnf.Scheduler.Enabled {
		logrus.Info("sync scheduler disabled by configuration")
		return
	}
	interval := time.Duration(b.cnf.Scheduler.IntervalMinutes) * time.Minute
	if err := s.Start(interval); err != nil {
		logrus.WithError(err).Error("could not start sync scheduler")
	}
}

func serverCommands(b *banklinkInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start banklink server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeObservability(ctx, b.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			scheduler := newScheduler(b)
			router, err := initializeRouter(b, scheduler)
			if err != nil {
				log.Fatal(err)
			}

			startScheduler(ctx, b, scheduler)
			defer func() {
				scheduler.Stop()
				scheduler.Wait()
			}()

			if b.cnf.Server.SSL {
				err = serveTLS(ctx, router, b.cnf.Server)
			} else {
				err = serve(ctx, router, b.cnf.Server)
			}
			if err != nil {
				logrus.WithError(err).Error("server stopped")
			}
		},
	}

	return cmd
}
