package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncDisplayDropped(t *testing.T) {
	Init()
	before := testutil.ToFloat64(displayDropped)
	IncDisplayDropped()
	IncDisplayDropped()
	assert.Equal(t, before+2, testutil.ToFloat64(displayDropped))
}

func TestIncFrame_OtherFeedsShareOneSeries(t *testing.T) {
	Init()
	before := testutil.ToFloat64(framesReceived.WithLabelValues(FeedOther))
	IncFrame(FeedOther)
	assert.Equal(t, before+1, testutil.ToFloat64(framesReceived.WithLabelValues(FeedOther)))
}
