package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/avasconcelos114/hashgate/internal/fingerprint"
	"github.com/avasconcelos114/hashgate/internal/registry"
)

func TestNewEntry(t *testing.T) {
	d := fingerprint.Compute([]byte("payload"))

	entry := registry.NewEntry(d, 30*24*time.Hour)

	assert.Equal(t, d, entry.Fingerprint)
	assert.Equal(t, entry.CreatedAt.Add(30*24*time.Hour).Unix(), entry.ExpiresAt)
}

func TestBatchResult_Failed(t *testing.T) {
	d1 := fingerprint.Compute([]byte("one"))
	d2 := fingerprint.Compute([]byte("two"))
	d3 := fingerprint.Compute([]byte("three"))

	result := registry.BatchResult{
		d1: nil,
		d2: &registry.Error{Op: "batch_store", Kind: registry.KindServerFault},
		d3: nil,
	}

	failed := result.Failed()
	assert.Len(t, failed, 1)
	assert.Equal(t, d2, failed[0])
}
