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

package cardroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cardroomhq/cardroom/config"
	redis_db "github.com/cardroomhq/cardroom/internal/redis-db"
	"github.com/cardroomhq/cardroom/internal/notification"
)

const fanoutChannelPrefix = "fanout:"

// serverPresenceChannel carries no traffic. Every instance SUBSCRIBEs it so
// that NUMSUB on this one channel counts the live instances; NUMPAT cannot,
// since all instances share a single pattern. The name sits outside the
// fan-out prefix so no room can collide with it.
const serverPresenceChannel = "cardroom:servers"

// maxReconnectAttempts bounds the subscriber reconnect loop; exceeding it is
// a terminal connection error.
const maxReconnectAttempts = 10

// ErrFanOutUnavailable is the terminal error after the reconnect budget is
// exhausted. The adapter keeps serving local subscribers, and the health
// prober reports the degradation.
var ErrFanOutUnavailable = errors.New("fan-out broker unreachable, cross-instance delivery suspended")

// Event is one fan-out message: room-scoped or global, carrying a named
// payload. Data stays raw so relaying instances never re-interpret it.
type Event struct {
	Room      string          `json:"room"`
	Name      string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"ts"`
}

// FanOutStats is the monitoring view of the adapter.
type FanOutStats struct {
	ServerCount      int64 `json:"serverCount"`
	LocalSubscribers int   `json:"localSocketCount"`
	Rooms            int   `json:"roomCount"`
	LocalOnly        bool  `json:"localOnly"`
}

// FanOut bridges the process-local room registry to Redis pub/sub so events
// reach clients on every instance. It holds two dedicated connections: one
// for publishing, one for subscribing, because a blocking subscribe must
// never sit in front of ordinary publish commands.
type FanOut struct {
	pub redis.UniversalClient
	sub redis.UniversalClient

	mu        sync.RWMutex
	rooms     map[string]map[chan Event]struct{}
	localOnly bool
	termErr   error

	done chan struct{}
}

// NewFanOut connects the adapter to the broker. If the broker is unreachable
// the adapter starts in local-only mode with a warning, except in production
// where silent single-instance fan-out is a correctness violation and the
// error is returned to abort startup.
func NewFanOut(conf *config.Configuration) (*FanOut, error) {
	opts, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, err
	}

	f := &FanOut{
		pub:   redis.NewClient(opts),
		sub:   redis.NewClient(opts),
		rooms: make(map[string]map[chan Event]struct{}),
		done:  make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.pub.Ping(ctx).Err(); err != nil {
		if conf.Production {
			return nil, fmt.Errorf("fan-out broker unreachable in production mode: %w", err)
		}
		logrus.Warnf("Fan-out broker unreachable, falling back to local-only delivery: %v", err)
		f.localOnly = true
		return f, nil
	}

	go f.receiveLoop()
	return f, nil
}

// Publish sends an event to every subscriber of the room, across all
// instances. The local dispatch happens when the broker echoes the message
// back through the subscriber connection, so delivery order per room matches
// the broker's publish order everywhere. In local-only mode the event is
// dispatched directly.
func (f *FanOut) Publish(ctx context.Context, room, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := Event{Room: room, Name: name, Data: data, Timestamp: time.Now().UTC()}

	f.mu.RLock()
	localOnly := f.localOnly
	f.mu.RUnlock()

	if localOnly {
		f.dispatch(event)
		return nil
	}

	raw, err := json.Marshal(&event)
	if err != nil {
		return err
	}
	return f.pub.Publish(ctx, fanoutChannelPrefix+room, raw).Err()
}

// Subscribe registers a local subscriber for a room. The returned cancel
// function removes the subscription and closes the channel. Slow consumers
// lose events rather than block the receive loop.
func (f *FanOut) Subscribe(room string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	f.mu.Lock()
	subs, ok := f.rooms[room]
	if !ok {
		subs = make(map[chan Event]struct{})
		f.rooms[room] = subs
	}
	subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if subs, ok := f.rooms[room]; ok {
			if _, registered := subs[ch]; registered {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(f.rooms, room)
			}
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *FanOut) dispatch(event Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.rooms[event.Room] {
		select {
		case ch <- event:
		default:
			logrus.WithFields(logrus.Fields{"room": event.Room, "event": event.Name}).
				Warn("Dropping fan-out event for slow subscriber")
		}
	}
}

// receiveLoop holds the dedicated subscribe connection. Whenever the
// subscription drops it reconnects with exponential backoff; exhausting the
// attempt budget surfaces a terminal error and leaves the adapter local-only.
func (f *FanOut) receiveLoop() {
	for {
		pubsub, err := f.resubscribe()
		if err != nil {
			f.mu.Lock()
			f.localOnly = true
			f.termErr = ErrFanOutUnavailable
			f.mu.Unlock()
			notification.NotifyError(fmt.Errorf("%w: %v", ErrFanOutUnavailable, err))
			return
		}

		f.consume(pubsub)

		select {
		case <-f.done:
			_ = pubsub.Close()
			return
		default:
			_ = pubsub.Close()
			logrus.Warn("Fan-out subscription dropped, reconnecting")
		}
	}
}

func (f *FanOut) resubscribe() (*redis.PubSub, error) {
	var pubsub *redis.PubSub
	operation := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ps := f.sub.Subscribe(context.Background(), serverPresenceChannel)
		if err := ps.PSubscribe(context.Background(), fanoutChannelPrefix+"*"); err != nil {
			_ = ps.Close()
			return err
		}
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return err
		}
		pubsub = ps
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(30*time.Second),
	), maxReconnectAttempts)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return pubsub, nil
}

func (f *FanOut) consume(pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-f.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Channel == serverPresenceChannel {
				continue
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logrus.Warnf("Dropping malformed fan-out message on %s: %v", msg.Channel, err)
				continue
			}
			f.dispatch(event)
		}
	}
}

// Stats reports cluster and local fan-out numbers. ServerCount counts the
// subscribers of the presence channel, one per live instance.
func (f *FanOut) Stats(ctx context.Context) (*FanOutStats, error) {
	f.mu.RLock()
	stats := &FanOutStats{
		Rooms:     len(f.rooms),
		LocalOnly: f.localOnly,
	}
	for _, subs := range f.rooms {
		stats.LocalSubscribers += len(subs)
	}
	localOnly := f.localOnly
	f.mu.RUnlock()

	if localOnly {
		stats.ServerCount = 1
		return stats, nil
	}

	counts, err := f.pub.PubSubNumSub(ctx, serverPresenceChannel).Result()
	if err != nil {
		return stats, err
	}
	stats.ServerCount = counts[serverPresenceChannel]
	return stats, nil
}

// Err returns the terminal connection error, if the reconnect budget has
// been exhausted.
func (f *FanOut) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.termErr
}

// Shutdown closes both broker connections. Best effort: close errors are
// swallowed, termination must not fail.
func (f *FanOut) Shutdown() {
	select {
	case <-f.done:
		return
	default:
		close(f.done)
	}
	_ = f.sub.Close()
	_ = f.pub.Close()
}
