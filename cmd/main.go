/*
Copyright 2024 Cardroom Authors.

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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cardroomhq/cardroom"
	"github.com/cardroomhq/cardroom/config"
	"github.com/cardroomhq/cardroom/database"
	"github.com/cardroomhq/cardroom/internal/notification"
	redis_db "github.com/cardroomhq/cardroom/internal/redis-db"
)

// CLI wraps the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// cardroomInstance holds the runtime pieces shared by every subcommand.
type cardroomInstance struct {
	cardroom *cardroom.Cardroom
	cnf      *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and builds the Cardroom instance before any
// subcommand executes.
func preRun(app *cardroomInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("cardroom.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		instance, err := setupCardroom(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.cardroom = instance
		app.cnf = cnf

		return nil
	}
}

// setupCardroom wires storage, the queue, the fan-out adapter, and the shared
// Redis client into one Cardroom instance.
func setupCardroom(cfg *config.Configuration) (*cardroom.Cardroom, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", cfg.Redis.Dns)})
	if err != nil {
		return nil, fmt.Errorf("error connecting to redis: %v", err)
	}

	fanout, err := cardroom.NewFanOut(cfg)
	if err != nil {
		return nil, fmt.Errorf("error starting fan-out adapter: %v", err)
	}

	queue := cardroom.NewQueue(cfg)
	return cardroom.NewCardroom(db, queue, fanout, redisClient.Client()), nil
}

// NewCLI creates the command-line interface for the Cardroom platform.
func NewCLI() *CLI {
	var configFile string
	b := &cardroomInstance{}

	var rootCmd = &cobra.Command{
		Use:   "cardroom",
		Short: "Real-time casino platform core",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./cardroom.json", "Configuration file for the platform")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands())

	return &CLI{cmd: rootCmd}
}

func (w CLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
