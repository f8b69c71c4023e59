package events_test

import (
	"strings"
	"testing"
	"time"

	"github.com/taucoin/blockchain/foundation/blockchain/listener"
	"github.com/taucoin/blockchain/foundation/events"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_Forward(t *testing.T) {
	t.Log("Given the need to relay chain events to websocket clients.")
	{
		bus := listener.New()
		evts := events.New()
		evts.Forward(bus)

		ch := evts.Acquire("client")

		t.Log("\tTest 0:\tWhen the forger reports its next slot.")
		{
			bus.Publish(listener.Event{Kind: listener.NextBlockForgedInterval, Interval: 42})

			select {
			case msg := <-ch:
				if !strings.Contains(msg, `"interval":42`) {
					t.Fatalf("\t%s\tTest 0:\tShould carry the interval, got %s.", failed, msg)
				}
				t.Logf("\t%s\tTest 0:\tShould carry the interval.", success)
			case <-time.After(5 * time.Second):
				t.Fatalf("\t%s\tTest 0:\tShould receive the event.", failed)
			}
		}

		t.Log("\tTest 1:\tWhen the client goes away.")
		{
			if err := evts.Release("client"); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould release the channel: %v", failed, err)
			}
			if err := evts.Release("client"); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould not release the channel twice.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould release the channel once.", success)
		}

		evts.Shutdown()
	}
}
