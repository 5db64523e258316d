package dataset

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

func TestBuildRoundRobinOrderDeterministic(t *testing.T) {
	roots := map[string][]string{
		"/rootA": {"/rootA/shard-000000.tar", "/rootA/shard-000002.tar"},
		"/rootB": {"/rootB/shard-000001.tar"},
	}
	rng1 := rand.New(rand.NewSource(7))
	rng2 := rand.New(rand.NewSource(7))

	order1 := buildRoundRobinOrder(roots, rng1)
	order2 := buildRoundRobinOrder(roots, rng2)

	if !reflect.DeepEqual(order1, order2) {
		t.Fatalf("round robin order not deterministic: %v vs %v", order1, order2)
	}

	if len(order1) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(order1))
	}

	if order1[0].root == order1[1].root {
		t.Fatalf("expected alternating roots, got %v", order1)
	}
}

func TestBuildRoundRobinOrderStableWithoutRNG(t *testing.T) {
	roots := map[string][]string{
		"/root": {"/root/shard-000000.tar", "/root/shard-000001.tar", "/root/shard-000002.tar"},
	}
	order := buildRoundRobinOrder(roots, nil)
	for i, entry := range order {
		if entry.path != roots["/root"][i] {
			t.Fatalf("order[%d]=%s want %s", i, entry.path, roots["/root"][i])
		}
	}
}

func memShards(t *testing.T) (map[string][]string, func(string) io.Reader) {
	t.Helper()
	data := map[string][]byte{
		"/rootA/shard-000000.tar": buildShard(map[string]filePair{"a0": {".jpg", []byte("a0"), 0}}).Bytes(),
		"/rootA/shard-000002.tar": buildShard(map[string]filePair{"a1": {".jpg", []byte("a1"), 1}}).Bytes(),
		"/rootB/shard-000001.tar": buildShard(map[string]filePair{"b0": {".jpg", []byte("b0"), 2}}).Bytes(),
	}
	roots := map[string][]string{
		"/rootA": {"/rootA/shard-000000.tar", "/rootA/shard-000002.tar"},
		"/rootB": {"/rootB/shard-000001.tar"},
	}
	return roots, func(path string) io.Reader { return bytes.NewReader(data[path]) }
}

func TestSamplerDeterministicStream(t *testing.T) {
	roots, open := memShards(t)
	opts := samplerOptions{
		Roots:      roots,
		Open:       open,
		Shuffle:    true,
		Repeat:     true,
		Seed:       123,
		NumWorkers: 2,
	}

	samplesRun1 := collectSamples(t, opts, 9)
	samplesRun2 := collectSamples(t, opts, 9)

	if !reflect.DeepEqual(samplesRun1, samplesRun2) {
		t.Fatalf("sampler order not deterministic: %v vs %v", samplesRun1, samplesRun2)
	}
}

func TestSamplerSinglePassEnds(t *testing.T) {
	roots, open := memShards(t)
	stream, errCh := startSampler(context.Background(), samplerOptions{
		Roots:      roots,
		Open:       open,
		NumWorkers: 3,
	})
	var keys []string
	for s := range stream {
		keys = append(keys, s.Key)
	}
	for err := range errCh {
		if err != nil {
			t.Fatalf("sampler error: %v", err)
		}
	}
	want := []string{"a0", "b0", "a1"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys %v want %v", keys, want)
	}
}

func collectSamples(t *testing.T, opts samplerOptions, count int) []string {
	ctx, cancel := context.WithCancel(context.Background())
	stream, errCh := startSampler(ctx, opts)
	defer cancel()

	out := make([]string, 0, count)
	deadline := time.After(time.Second)
	for len(out) < count {
		select {
		case sample, ok := <-stream:
			if !ok {
				t.Fatalf("stream closed early; collected %d samples", len(out))
			}
			out = append(out, sample.Key)
		case err := <-errCh:
			if err != nil {
				t.Fatalf("sampler reported error: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for samples")
		}
	}
	cancel()
	for err := range errCh {
		if err != nil {
			t.Fatalf("sampler emitted error after cancel: %v", err)
		}
	}
	return out
}
