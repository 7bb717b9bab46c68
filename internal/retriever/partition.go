package retriever

import (
	"fmt"
	"strings"
)

// PartitionPolicy decides which credential handles which request.
type PartitionPolicy string

const (
	// RoundRobin assigns request i to credential i mod N, the same cycling order
	// the archive keys were historically handed out in.
	RoundRobin PartitionPolicy = "round-robin"
	// Contiguous assigns consecutive blocks of ceil(len/N) requests to each credential.
	Contiguous PartitionPolicy = "contiguous"
)

// Decode implements envconfig.Decoder.
func (p *PartitionPolicy) Decode(value string) error {
	switch PartitionPolicy(strings.ToLower(value)) {
	case "", RoundRobin:
		*p = RoundRobin
	case Contiguous:
		*p = Contiguous
	default:
		return fmt.Errorf("unknown partition policy %q", value)
	}

	return nil
}

// Partition splits requests into n shards. The result depends only on the order of
// requests, n and the policy, and always has exactly n shards (some possibly empty).
// Request order is preserved inside each shard.
func Partition(requests []RetrievalRequest, n int, policy PartitionPolicy) [][]RetrievalRequest {
	if n <= 0 {
		return nil
	}

	shards := make([][]RetrievalRequest, n)

	switch policy {
	case Contiguous:
		size := (len(requests) + n - 1) / n
		for i := range shards {
			from := min(i*size, len(requests))
			to := min(from+size, len(requests))
			shards[i] = requests[from:to:to]
		}
	default:
		for i, req := range requests {
			shards[i%n] = append(shards[i%n], req)
		}
	}

	return shards
}
