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
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/banklink/banklink"
	"github.com/banklink/banklink/config"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeWorkerServer(conf *config.Configuration, opt asynq.RedisClientOpt) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.WorkerConcurrency,
		Queues:      map[string]int{conf.Queue.AutoMatchQueue: 1},
		Logger:      logrus.WithField("component", "workers"),
	})
}

func initializeTaskHandlers(b *banklinkInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(banklink.TaskTypeAutoMatch, b.banklink.HandleAutoMatchTask)
}

// serveMonitoring exposes the asynqmon dashboard for the task queues.
func serveMonitoring(conf *config.Configuration, opt asynq.RedisClientOpt) {
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})

	addr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
	log.Printf("Asynqmon server listening on %s/monitoring", addr)
	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatalf("could not start asynqmon server: %v", err)
	}
}

// workerCommands starts the auto-match workers and the recovery sweep.
func workerCommands(b *banklinkInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start banklink workers",
		Run: func(cmd *cobra.Command, args []string) {
			opt, err := banklink.RedisConnOpt(b.cnf)
			if err != nil {
				log.Fatal(err)
			}

			srv := initializeWorkerServer(b.cnf, opt)
			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			go serveMonitoring(b.cnf, opt)

			recovery := banklink.NewMatchRecoveryProcessor(b.banklink)
			recovery.Start(context.Background())
			defer recovery.Stop()

			if err := srv.Run(mux); err != nil {
				log.Printf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
