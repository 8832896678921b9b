package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestImagesDecodedCountsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(ImagesDecoded.WithLabelValues("ok"))
	ImagesDecoded.WithLabelValues("ok").Inc()
	after := testutil.ToFloat64(ImagesDecoded.WithLabelValues("ok"))
	assert.Equal(t, before+1, after)
}

func TestInferenceDurationObservesByStage(t *testing.T) {
	countBefore := testutil.CollectAndCount(InferenceDuration)
	InferenceDuration.WithLabelValues("decode").Observe(0.01)
	countAfter := testutil.CollectAndCount(InferenceDuration)
	assert.GreaterOrEqual(t, countAfter, countBefore)
}

func TestRuntimePoisonedIncrements(t *testing.T) {
	before := testutil.ToFloat64(RuntimePoisoned)
	RuntimePoisoned.Inc()
	after := testutil.ToFloat64(RuntimePoisoned)
	assert.Equal(t, before+1, after)
}

func TestVectorIndexSizeGaugeSet(t *testing.T) {
	VectorIndexSize.Set(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(VectorIndexSize))
}
