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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banklink/banklink/model"
)

// syncCommands runs one sync pass from the command line, with the same
// logging and sync log rows as a scheduled cycle.
func syncCommands(b *banklinkInstance) *cobra.Command {
	var (
		stale    bool
		accounts []string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "sync bank accounts once",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			scheduler := newScheduler(b)

			var (
				result *model.SyncResult
				err    error
			)
			switch {
			case len(accounts) > 0:
				result, err = b.banklink.SyncAccounts(ctx, accounts)
			case stale:
				result, err = scheduler.RunStartupCheck(ctx)
			default:
				result, err = scheduler.ManualSync(ctx)
			}
			if err != nil {
				log.Fatalf("sync failed: %v", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				log.Fatal(err)
			}
			fmt.Printf("finished at %s\n", time.Now().Format(time.RFC3339))
		},
	}
	cmd.Flags().BoolVar(&stale, "stale", false, "only sync accounts not synced in the last 24 hours")
	cmd.Flags().StringSliceVar(&accounts, "account", nil, "sync only these account ids")

	return cmd
}
