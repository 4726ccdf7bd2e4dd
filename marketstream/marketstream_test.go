package marketstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"perpengine/bar"
)

func TestPublishDropsOldestOnFullQueue(t *testing.T) {
	s := New()
	// shrink the channel to force an overflow without waiting for 256 events
	s.events = make(chan ClosedBar, 2)

	s.publish(ClosedBar{Symbol: "A"})
	s.publish(ClosedBar{Symbol: "B"})
	// queue full now; publishing a third must not block.
	done := make(chan struct{})
	go func() {
		s.publish(ClosedBar{Symbol: "C"})
		close(done)
	}()
	<-done

	require.LessOrEqual(t, len(s.events), 2)
}

func TestEventsChannelDelivers(t *testing.T) {
	s := New()
	want := ClosedBar{Symbol: "BTCUSDT", Timeframe: "1m", Bar: bar.Bar{Close: 100}}
	s.publish(want)
	got := <-s.Events()
	require.Equal(t, want, got)
}
