package retriever_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/tigge_retriever/internal/retriever"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestsFor(n int) []retriever.RetrievalRequest {
	reqs := make([]retriever.RetrievalRequest, n)
	for i := range reqs {
		d := mar05.AddDays(i)
		reqs[i] = retriever.RetrievalRequest{Date: d, TargetPath: retriever.ArtifactPath("/data", d, false)}
	}

	return reqs
}

func shardSizes(shards [][]retriever.RetrievalRequest) []int {
	sizes := make([]int, len(shards))
	for i, s := range shards {
		sizes[i] = len(s)
	}

	return sizes
}

func TestPartition_RoundRobin(t *testing.T) {
	reqs := requestsFor(4)

	shards := retriever.Partition(reqs, 2, retriever.RoundRobin)
	require.Len(t, shards, 2)

	assert.Equal(t, []retriever.RetrievalRequest{reqs[0], reqs[2]}, shards[0], "credential 0 handles even indices")
	assert.Equal(t, []retriever.RetrievalRequest{reqs[1], reqs[3]}, shards[1])
}

func TestPartition_Contiguous(t *testing.T) {
	tests := []struct {
		name     string
		requests int
		n        int
		want     []int
	}{
		{"even split", 4, 2, []int{2, 2}},
		{"uneven split", 5, 2, []int{3, 2}},
		{"more credentials than requests", 2, 3, []int{1, 1, 0}},
		{"no requests", 0, 2, []int{0, 0}},
		{"single credential", 7, 1, []int{7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs := requestsFor(tt.requests)
			shards := retriever.Partition(reqs, tt.n, retriever.Contiguous)

			assert.Equal(t, tt.want, shardSizes(shards))

			var flat []retriever.RetrievalRequest
			for _, s := range shards {
				flat = append(flat, s...)
			}

			assert.Equal(t, len(reqs), len(flat))
			if len(reqs) > 0 {
				assert.Equal(t, reqs, flat, "blocks keep the original order")
			}
		})
	}
}

func TestPartition_Deterministic(t *testing.T) {
	reqs := requestsFor(11)

	for _, policy := range []retriever.PartitionPolicy{retriever.RoundRobin, retriever.Contiguous} {
		first := retriever.Partition(reqs, 3, policy)
		for range 10 {
			assert.Equal(t, first, retriever.Partition(reqs, 3, policy), "policy %s", policy)
		}
	}
}

func TestPartition_NoCredentials(t *testing.T) {
	assert.Nil(t, retriever.Partition(requestsFor(3), 0, retriever.RoundRobin))
}

func TestPartitionPolicy_Decode(t *testing.T) {
	var p retriever.PartitionPolicy

	require.NoError(t, p.Decode("contiguous"))
	assert.Equal(t, retriever.Contiguous, p)

	require.NoError(t, p.Decode("Round-Robin"))
	assert.Equal(t, retriever.RoundRobin, p)

	require.NoError(t, p.Decode(""))
	assert.Equal(t, retriever.RoundRobin, p)

	assert.Error(t, p.Decode("random"))
}

func TestPresent(t *testing.T) {
	dir := t.TempDir()

	full := filepath.Join(dir, "full.nc")
	require.NoError(t, os.WriteFile(full, []byte("CDF"), 0o644))

	empty := filepath.Join(dir, "empty.nc")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	sub := filepath.Join(dir, "sub.nc")
	require.NoError(t, os.Mkdir(sub, 0o755))

	assert.True(t, retriever.Present(full))
	assert.False(t, retriever.Present(empty), "zero-byte files are not complete")
	assert.False(t, retriever.Present(sub), "directories are not artifacts")
	assert.False(t, retriever.Present(filepath.Join(dir, "missing.nc")))
}
