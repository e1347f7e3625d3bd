package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgetele/sparkplug/log2"
	"github.com/edgetele/sparkplug/publisher"
)

func TestHandleCommandRouting(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	rebirthCh := make(chan struct{}, 1)
	scanRateCh := make(chan time.Duration, 1)
	const cmdTopic = "spBv1.0/Energy/NCMD/Gateway01"

	raw, err := publisher.RebirthRequest(1700000000000)
	require.NoError(t, err)
	handleCommand(log, rebirthCh, scanRateCh, cmdTopic, raw)
	select {
	case <-rebirthCh:
	default:
		t.Fatal("rebirth request not delivered")
	}

	raw, err = publisher.ScanRateRequest(1700000000000, 250*time.Millisecond)
	require.NoError(t, err)
	handleCommand(log, rebirthCh, scanRateCh, cmdTopic, raw)
	select {
	case d := <-scanRateCh:
		assert.Equal(t, 250*time.Millisecond, d)
	default:
		t.Fatal("scan rate change not delivered")
	}

	// only NCMD/DCMD topics are acted on
	handleCommand(log, rebirthCh, scanRateCh, "spBv1.0/Energy/NDATA/Gateway01", raw)
	select {
	case <-scanRateCh:
		t.Fatal("data topic treated as command")
	default:
	}
}
