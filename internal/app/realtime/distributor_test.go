package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/money"
	"github.com/impnet/service_layer/pkg/logger"
	"github.com/impnet/service_layer/pkg/testutil"
)

func startDistributor(t *testing.T, sender Sender) *Distributor {
	t.Helper()
	d := NewDistributor(sender, money.NewCodec(2, "IMP"), logger.NewDiscard())
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	return d
}

func decode(t *testing.T, frame string) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(frame), &env))
	return env
}

func waitFrames(t *testing.T, ch *testutil.RecordingChannel, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(ch.Frames()) >= n }, 2*time.Second, 5*time.Millisecond)
	return ch.Frames()
}

func TestDistributorTransactionGoesToBothParties(t *testing.T) {
	reg := NewRegistry(logger.NewDiscard())
	alice, bob, carol := testutil.NewRecordingChannel("a"), testutil.NewRecordingChannel("b"), testutil.NewRecordingChannel("c")
	reg.Register("alice", alice)
	reg.Register("bob", bob)
	reg.Register("carol", carol)
	d := startDistributor(t, reg)

	d.PublishTransaction(ledger.Transaction{
		ID: "tx-1", FromAccount: "alice", ToAccount: "bob",
		Amount: 2500, Kind: ledger.KindTransfer, Description: "rent", Status: ledger.StatusCompleted,
	})

	frames := waitFrames(t, alice, 1)
	env := decode(t, frames[0])
	assert.Equal(t, EventTransactionCreated, env["type"])
	assert.NotEmpty(t, env["timestamp"])
	payload := env["payload"].(map[string]any)
	assert.Equal(t, "25.00", payload["amount"])
	assert.Equal(t, "rent", payload["description"])

	waitFrames(t, bob, 1)
	require.NoError(t, d.Stop(context.Background()))
	assert.Empty(t, carol.Frames())
}

func TestDistributorChatBroadcasts(t *testing.T) {
	reg := NewRegistry(logger.NewDiscard())
	a, b := testutil.NewRecordingChannel("a"), testutil.NewRecordingChannel("b")
	reg.Register("alice", a)
	reg.Register("bob", b)
	d := startDistributor(t, reg)

	d.PublishChat(chat.Message{ID: "m1", SenderID: "alice", Body: "hi", Type: chat.TypeText})

	env := decode(t, waitFrames(t, b, 1)[0])
	assert.Equal(t, EventChatMessage, env["type"])
	assert.Equal(t, "hi", env["payload"].(map[string]any)["message"])
	waitFrames(t, a, 1)
}

func TestDistributorPreservesProducerOrder(t *testing.T) {
	reg := NewRegistry(logger.NewDiscard())
	ch := testutil.NewRecordingChannel("a")
	reg.Register("alice", ch)
	d := startDistributor(t, reg)

	const n = 200
	for i := 0; i < n; i++ {
		d.PublishChat(chat.Message{ID: fmt.Sprintf("m%03d", i), Body: "x"})
	}

	frames := waitFrames(t, ch, n)
	for i, frame := range frames {
		payload := decode(t, frame)["payload"].(map[string]any)
		require.Equal(t, fmt.Sprintf("m%03d", i), payload["id"])
	}
}

func TestDistributorStopDrainsQueue(t *testing.T) {
	reg := NewRegistry(logger.NewDiscard())
	ch := testutil.NewRecordingChannel("a")
	reg.Register("alice", ch)

	d := NewDistributor(reg, money.NewCodec(2, ""), logger.NewDiscard())
	for i := 0; i < 5; i++ {
		d.PublishChat(chat.Message{ID: fmt.Sprint(i)})
	}
	assert.Equal(t, 5, d.Pending())

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, ch.Frames(), 5)

	d.PublishChat(chat.Message{ID: "late"})
	assert.Equal(t, 0, d.Pending())
}

type memoryRelay struct {
	mu   sync.Mutex
	sent [][]byte
}

func (m *memoryRelay) Publish(_ context.Context, data []byte) error {
	m.mu.Lock()
	m.sent = append(m.sent, append([]byte(nil), data...))
	m.mu.Unlock()
	return nil
}

func (m *memoryRelay) messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

func TestDistributorRelaysAcrossInstances(t *testing.T) {
	// instance one: alice connected here
	regOne := NewRegistry(logger.NewDiscard())
	alice := testutil.NewRecordingChannel("a")
	regOne.Register("alice", alice)
	relay := &memoryRelay{}
	one := startDistributor(t, regOne)
	one.AttachRelay(relay)

	// instance two: bob connected here
	regTwo := NewRegistry(logger.NewDiscard())
	bob := testutil.NewRecordingChannel("b")
	regTwo.Register("bob", bob)
	twoRelay := &memoryRelay{}
	two := startDistributor(t, regTwo)
	two.AttachRelay(twoRelay)

	one.PublishTransaction(ledger.Transaction{ID: "tx", FromAccount: "alice", ToAccount: "bob", Amount: 1})
	waitFrames(t, alice, 1)
	require.Eventually(t, func() bool { return len(relay.messages()) == 1 }, time.Second, 5*time.Millisecond)

	two.DeliverRemote(relay.messages()[0])
	frames := waitFrames(t, bob, 1)
	assert.Equal(t, EventTransactionCreated, decode(t, frames[0])["type"])

	// remote events are not relayed again
	require.NoError(t, two.Stop(context.Background()))
	assert.Empty(t, twoRelay.messages())

	two.DeliverRemote([]byte("not json"))
}

type stalledRelay struct{ calls atomic.Int32 }

func (s *stalledRelay) Publish(ctx context.Context, _ []byte) error {
	s.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestDistributorLocalDeliveryIgnoresStalledRelay(t *testing.T) {
	reg := NewRegistry(logger.NewDiscard())
	ch := testutil.NewRecordingChannel("a")
	reg.Register("alice", ch)
	d := startDistributor(t, reg)
	relay := &stalledRelay{}
	d.AttachRelay(relay)

	start := time.Now()
	for i := 0; i < 3; i++ {
		d.PublishChat(chat.Message{ID: fmt.Sprintf("m%d", i), SenderID: "bob", Body: "hi"})
	}
	waitFrames(t, ch, 3)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// overflow the relay queue; local delivery keeps up and the backlog stays bounded
	total := 3 + RelayQueueSize + 10
	for i := 3; i < total; i++ {
		d.PublishChat(chat.Message{ID: fmt.Sprintf("m%d", i), SenderID: "bob", Body: "hi"})
	}
	waitFrames(t, ch, total)
	assert.LessOrEqual(t, d.RelayBacklog(), RelayQueueSize)
	assert.GreaterOrEqual(t, relay.calls.Load(), int32(1))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	stopStart := time.Now()
	_ = d.Stop(ctx)
	assert.Less(t, time.Since(stopStart), time.Second)
}
