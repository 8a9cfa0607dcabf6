/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	require.Equal(t, initialBackoff, nextBackoff(0))
	require.Equal(t, 2*time.Second, nextBackoff(time.Second))
	require.Equal(t, maxBackoff, nextBackoff(maxBackoff))
	require.Equal(t, maxBackoff, nextBackoff(maxBackoff/2+time.Second))
}

func TestInterruptibleSleepInterruptedByStop(t *testing.T) {
	stop := make(chan struct{})
	close(stop)
	require.True(t, interruptibleSleep(time.Minute, stop))
}

func TestInterruptibleSleepCompletesNaturally(t *testing.T) {
	stop := make(chan struct{})
	require.False(t, interruptibleSleep(time.Millisecond, stop))
}
