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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/cardroomhq/cardroom"
	"github.com/cardroomhq/cardroom/config"
	redis_db "github.com/cardroomhq/cardroom/internal/redis-db"
	"github.com/cardroomhq/cardroom/model"
)

// processDistribution handles one dividend job from the queue. Payout errors
// go back to asynq for retry; a job that has exhausted its retry budget is
// recorded against its cycle so the cycle summary still completes.
func (b *cardroomInstance) processDistribution(limiter *rate.Limiter) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var job model.DistributionJob
		if err := json.Unmarshal(t.Payload(), &job); err != nil {
			logrus.Error(err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		if !limiter.Allow() {
			reservation := limiter.Reserve()
			delay := reservation.Delay()
			reservation.Cancel()
			return &cardroom.RateLimitError{RetryIn: delay}
		}

		_, err := b.cardroom.ProcessDistribution(ctx, &job)
		if err != nil {
			retryCount, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retryCount >= maxRetry {
				b.cardroom.RecordFailedJob(ctx, &job, err)
			}
			return err
		}

		log.Println(" [*] Distribution Processed", job.JobID)
		return nil
	}
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency:    conf.Queue.WorkerConcurrency,
			Queues:         map[string]int{conf.Queue.DividendQueue: 1},
			IsFailure:      cardroom.IsJobFailure,
			RetryDelayFunc: cardroom.RetryDelay,
		},
	), nil
}

// workerCommands defines the "workers" command. The worker drains the
// dividend queue sequentially, with job starts throttled so a full cycle
// spreads its database load over time.
func workerCommands(b *cardroomInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start cardroom workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeTracing(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			srv, err := initializeWorkerServer(conf)
			if err != nil {
				log.Fatal(err)
			}

			window := time.Duration(conf.Queue.RateWindowSec) * time.Second
			limiter := rate.NewLimiter(
				rate.Every(window/time.Duration(conf.Queue.JobStartsPerWindow)),
				conf.Queue.JobStartsPerWindow,
			)

			mux := asynq.NewServeMux()
			mux.HandleFunc(conf.Queue.DividendQueue, b.processDistribution(limiter))

			// Asynqmon serves queue health and monitoring.
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Printf("Asynqmon server error: %v", err)
				}
			}()

			// Hourly retention sweep: cap completed jobs and expire the
			// failed-job archive.
			go func() {
				ticker := time.NewTicker(time.Hour)
				defer ticker.Stop()
				for range ticker.C {
					if err := b.cardroom.Queue().PruneRetention(); err != nil {
						log.Printf("Retention prune failed: %v", err)
					}
				}
			}()

			log.Println(" [*] Starting distribution workers")
			if err := srv.Run(mux); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
