//go:build linux

package conntable

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/control"
)

func TestKeepNewConnectionRule(t *testing.T) {
	lo := api.MustParseAddress("10.0.0.1:7800")
	hi := api.MustParseAddress("10.0.0.2:7800")

	// survivor is the connection initiated by the greater address
	assert.True(t, keepNewConnection(hi, lo, true), "hi keeps its dialed connection")
	assert.False(t, keepNewConnection(hi, lo, false), "hi rejects lo's inbound connection")
	assert.True(t, keepNewConnection(lo, hi, false), "lo adopts hi's inbound connection")
	assert.False(t, keepNewConnection(lo, hi, true), "lo drops its dialed connection")

	// both ends agree for every ordering of the pair
	for _, pair := range [][2]api.Address{{lo, hi}, {hi, lo}} {
		a, b := pair[0], pair[1]
		aKeepsOwn := keepNewConnection(a, b, true)
		bAdoptsA := keepNewConnection(b, a, false)
		assert.Equal(t, aKeepsOwn, bAdoptsA, "%s vs %s", a, b)
	}
}

func TestAcceptorRejectsDuplicateFromSmallerPeer(t *testing.T) {
	a := startTable(t, nil)
	b := startTable(t, nil)
	lo, hi := ordered(a, b)

	existing, err := hi.GetConnection(context.Background(), lo.LocalAddress())
	require.NoError(t, err)

	dup := rawPeer(t, hi.LocalAddress(), lo.LocalAddress())
	expectClosed(t, dup)

	assert.Same(t, existing, hi.Connection(lo.LocalAddress()))
	assert.True(t, existing.IsRunning())
	assert.Equal(t, 1.0, testutil.ToFloat64(hi.Metrics().TieBreaks.WithLabelValues("acceptor", control.TieBreakKeptExisting)))
}

func TestAcceptorReplacesDuplicateFromGreaterPeer(t *testing.T) {
	events := &recorder{}
	a := startTable(t, nil)
	b := startTable(t, nil)
	lo, hi := ordered(a, b)
	lo.AddConnectionListener(events)

	existing, err := lo.GetConnection(context.Background(), hi.LocalAddress())
	require.NoError(t, err)

	dup := rawPeer(t, lo.LocalAddress(), hi.LocalAddress())
	require.Eventually(t, func() bool {
		c := lo.Connection(hi.LocalAddress())
		return c != nil && c != existing
	}, 2*time.Second, 10*time.Millisecond)

	current := lo.Connection(hi.LocalAddress())
	assert.Equal(t, dup.LocalAddr().String(), current.RemoteAddr().String())
	assert.False(t, current.Outbound())
	assert.False(t, existing.IsRunning())
	opened, closed := events.counts()
	assert.Equal(t, 2, opened, "opened fires again for the replacement")
	assert.Zero(t, closed, "replacement is not a disconnect")
}

func TestSimultaneousConnectConverges(t *testing.T) {
	for round := 0; round < 5; round++ {
		a := startTable(t, nil)
		b := startTable(t, nil)
		lo, hi := ordered(a, b)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = a.GetConnection(context.Background(), b.LocalAddress())
		}()
		go func() {
			defer wg.Done()
			_, _ = b.GetConnection(context.Background(), a.LocalAddress())
		}()
		wg.Wait()

		require.Eventually(t, func() bool {
			hc := hi.Connection(lo.LocalAddress())
			lc := lo.Connection(hi.LocalAddress())
			if hc == nil || lc == nil || !hc.IsRunning() || !lc.IsRunning() {
				return false
			}
			// one socket, seen from both ends, initiated by the greater address
			return hi.NumConnections() == 1 && lo.NumConnections() == 1 &&
				hc.LocalAddr().String() == lc.RemoteAddr().String() &&
				hc.Outbound() && !lc.Outbound()
		}, 5*time.Second, 10*time.Millisecond, "round %d", round)

		recvHi, recvLo := newCollector(), newCollector()
		hi.SetReceiver(recvHi)
		lo.SetReceiver(recvLo)
		require.NoError(t, lo.Send(context.Background(), hi.LocalAddress(), []byte("from-lo")))
		require.NoError(t, hi.Send(context.Background(), lo.LocalAddress(), []byte("from-hi")))
		assert.Equal(t, "from-lo", string(recvHi.next(t).data))
		assert.Equal(t, "from-hi", string(recvLo.next(t).data))

		a.Stop()
		b.Stop()
	}
}
