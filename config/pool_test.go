package config

import "testing"

func TestComputePoolSizeDefaults(t *testing.T) {
	// 512MB container, 4 worker threads, no override:
	// min(512/10, 4*4, 100) = 16
	size := ComputePoolSize(512, 4, 0)
	if size != 16 {
		t.Errorf("Expected pool size 16, got %d", size)
	}

	limit := ComputeDirectLimit(size)
	if limit != 3 {
		t.Errorf("Expected direct limit 3, got %d", limit)
	}
}

func TestComputePoolSizeOverride(t *testing.T) {
	// Operator override below the memory and thread bounds wins.
	if size := ComputePoolSize(2048, 16, 8); size != 8 {
		t.Errorf("Expected override pool size 8, got %d", size)
	}

	// Override above the other bounds does not raise the pool.
	if size := ComputePoolSize(512, 4, 50); size != 16 {
		t.Errorf("Expected pool size 16 despite high override, got %d", size)
	}
}

func TestComputePoolSizeBounds(t *testing.T) {
	cases := []struct {
		memoryMB   int
		threadHint int
		override   int
	}{
		{0, 1, 0},
		{-100, -5, 0},
		{10, 1, 0},
		{100000, 1000, 0},
		{100000, 1000, 100000},
		{512, 4, 1},
		{7, 3, 2},
	}

	for _, tc := range cases {
		size := ComputePoolSize(tc.memoryMB, tc.threadHint, tc.override)
		if size < 2 || size > 100 {
			t.Errorf("Pool size %d out of [2,100] for %+v", size, tc)
		}
		limit := ComputeDirectLimit(size)
		if limit < 2 || limit > size {
			t.Errorf("Direct limit %d out of [2,%d] for %+v", limit, size, tc)
		}
	}
}

func TestResolveAppliesDefaults(t *testing.T) {
	p := PoolConfig{}
	p.resolve()

	if p.MemoryMB != 512 || p.ThreadPoolSize != 4 {
		t.Errorf("Expected default memory/thread hints, got %d/%d", p.MemoryMB, p.ThreadPoolSize)
	}
	if p.PoolSize != 16 || p.DirectLimit != 3 {
		t.Errorf("Expected resolved pool 16/3, got %d/%d", p.PoolSize, p.DirectLimit)
	}
	if p.ConnectTimeoutSec != 10 || p.QueryTimeoutSec != 30 {
		t.Errorf("Expected default timeouts, got %d/%d", p.ConnectTimeoutSec, p.QueryTimeoutSec)
	}
}
