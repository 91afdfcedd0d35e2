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
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/banklink/banklink"
	"github.com/banklink/banklink/database"
)

const migrationTable = "banklink_migrations"

func migrateCommands(b *banklinkInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run banklink database migrations",
	}

	cmd.AddCommand(migrateDirectionCommand(b, "up", migrate.Up))
	cmd.AddCommand(migrateDirectionCommand(b, "down", migrate.Down))

	return cmd
}

// migrateDirectionCommand applies or rolls back the embedded migrations.
func migrateDirectionCommand(b *banklinkInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use: use,
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: banklink.SQLFiles,
				Root:       "sql",
			}

			db, err := database.ConnectDB(b.cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			migrate.SetTable(migrationTable)
			n, err := migrate.ExecMax(db, "postgres", migrations, direction, limit)
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
				return
			}
			fmt.Printf("Applied %d migrations %s!\n", n, use)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of migrations to apply, 0 for all")

	return cmd
}
