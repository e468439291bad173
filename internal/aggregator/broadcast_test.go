package aggregator

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroadcaster_LatestWins(t *testing.T) {
	b := NewBroadcaster()
	require.Nil(t, b.Latest())

	s1 := Snapshot{addr(0x01): big.NewInt(1)}
	b.Publish(s1)
	require.Equal(t, s1, b.Latest())

	s2 := Snapshot{addr(0x02): big.NewInt(2)}
	b.Publish(s2)
	require.Equal(t, s2, b.Latest())
}

func TestBroadcaster_Wait(t *testing.T) {
	b := NewBroadcaster()
	wait := b.Wait()

	done := make(chan struct{})
	go func() {
		b.Publish(Snapshot{addr(0x03): big.NewInt(3)})
		close(done)
	}()

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("Wait channel never closed after Publish")
	}
	<-done
	require.Equal(t, Snapshot{addr(0x03): big.NewInt(3)}, b.Latest())
}
