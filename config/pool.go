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

package config

import "log"

const (
	// minPoolSize is the floor for both the pooled and direct connection
	// limits. Below two connections the worker and the health prober starve
	// each other.
	minPoolSize = 2

	// maxPoolSize caps the pool regardless of container size, aligned with
	// typical postgres max_connections headroom per instance.
	maxPoolSize = 100

	// memoryMBPerConnection is the working assumption for the memory cost of
	// one open postgres connection, used to bound the pool by container size.
	memoryMBPerConnection = 10

	connectionsPerThread = 4

	defaultMemoryMB   = 512
	defaultThreadHint = 4
)

// PoolConfig is resolved once at startup and stays immutable for the process
// lifetime. PoolSize and DirectLimit are computed, never read from the
// environment directly.
type PoolConfig struct {
	MemoryMB          int  `json:"memory_mb" envconfig:"CARDROOM_CONTAINER_MEMORY_MB"`
	MaxConnections    int  `json:"max_connections" envconfig:"CARDROOM_MAX_DB_CONNECTIONS"`
	ThreadPoolSize    int  `json:"thread_pool_size" envconfig:"CARDROOM_THREAD_POOL_SIZE"`
	ConnectTimeoutSec int  `json:"connect_timeout_sec" envconfig:"CARDROOM_DB_CONNECT_TIMEOUT_SEC"`
	QueryTimeoutSec   int  `json:"query_timeout_sec" envconfig:"CARDROOM_DB_QUERY_TIMEOUT_SEC"`
	LogQueries        bool `json:"log_queries" envconfig:"CARDROOM_DB_LOG_QUERIES"`

	PoolSize    int `json:"-"`
	DirectLimit int `json:"-"`
}

// ComputePoolSize bounds the connection pool by container memory
// (~10MB per connection), worker-thread capacity, an optional operator
// override, and a hard ceiling of 100. Zero or negative override means no
// override.
func ComputePoolSize(memoryMB, threadHint, override int) int {
	if memoryMB < 0 {
		memoryMB = 0
	}
	if threadHint < 1 {
		threadHint = 1
	}

	size := memoryMB / memoryMBPerConnection
	if byThreads := threadHint * connectionsPerThread; byThreads < size {
		size = byThreads
	}
	if override > 0 && override < size {
		size = override
	}
	if size > maxPoolSize {
		size = maxPoolSize
	}
	if size < minPoolSize {
		size = minPoolSize
	}
	return size
}

// ComputeDirectLimit reserves a slice of the pool budget for non-pooled
// (session-bound) connections: a fifth of the pool, never fewer than two.
func ComputeDirectLimit(poolSize int) int {
	limit := poolSize * 2 / 10
	if limit < minPoolSize {
		limit = minPoolSize
	}
	return limit
}

func (p *PoolConfig) resolve() {
	if p.MemoryMB <= 0 {
		p.MemoryMB = defaultMemoryMB
	}
	if p.ThreadPoolSize <= 0 {
		p.ThreadPoolSize = defaultThreadHint
	}
	if p.ConnectTimeoutSec <= 0 {
		p.ConnectTimeoutSec = 10
	}
	if p.QueryTimeoutSec <= 0 {
		p.QueryTimeoutSec = 30
	}

	p.PoolSize = ComputePoolSize(p.MemoryMB, p.ThreadPoolSize, p.MaxConnections)
	p.DirectLimit = ComputeDirectLimit(p.PoolSize)
	log.Printf("Database pool resolved: pool_size=%d direct_limit=%d (memory_mb=%d threads=%d override=%d)",
		p.PoolSize, p.DirectLimit, p.MemoryMB, p.ThreadPoolSize, p.MaxConnections)
}
