package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/edgemq/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordFrame("in", "method")
	RecordBytes("out", 128)
	RecordRPC("queue.declare", nil, 3*time.Millisecond)
	RecordRPC("queue.declare", errors.New("timeout"), time.Second)
	RecordPublish(2)
	RecordDelivery()
	RecordConnectionClosed("application")
}

func TestCountersMove(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(confirms.WithLabelValues("nack"))
	RecordConfirm(false, 3)
	assert.Equal(t, before+3, testutil.ToFloat64(confirms.WithLabelValues("nack")))

	beforeErr := testutil.ToFloat64(callbackErrors.WithLabelValues("HandleDelivery"))
	RecordCallbackError("HandleDelivery")
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(callbackErrors.WithLabelValues("HandleDelivery")))

	open := testutil.ToFloat64(openChannels)
	ChannelOpened()
	ChannelOpened()
	ChannelClosed()
	assert.Equal(t, open+1, testutil.ToFloat64(openChannels))
}
