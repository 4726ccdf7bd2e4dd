package userstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"perpengine/logx"
)

func TestPublishDropsOldestOnOverflow(t *testing.T) {
	s := &Stream{events: make(chan Event, 1), log: logx.New("test")}
	s.publish(Event{Kind: KindAccountUpdate})
	s.publish(Event{Kind: KindOrderTradeUpdate}) // forces drop of the first
	require.Len(t, s.events, 1)
	got := <-s.events
	require.Equal(t, KindOrderTradeUpdate, got.Kind)
}
