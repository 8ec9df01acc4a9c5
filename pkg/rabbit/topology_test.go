package rabbit

import (
	"errors"
	"strings"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topologyJSON = `{
	"exchanges": [
		{"name": "events", "kind": "topic", "durable": true},
		{"name": "events.audit", "kind": "fanout", "durable": true,
		 "bindings": [{"source": "events", "routing_key": "#"}]}
	],
	"queues": [
		{"name": "orders", "durable": true,
		 "arguments": {"x-message-ttl": 60000, "x-queue-type": "quorum", "x-ratio": 0.5,
		               "x-nested": {"limit": 10}},
		 "bindings": [{"source": "events", "routing_key": "order.created"}]}
	],
	"channels": [
		{"qos": {"prefetch_count": 20},
		 "consumers": [{"queue": "orders", "tag": "orders-worker"}]}
	]
}`

func TestParseTopology(t *testing.T) {
	topology, err := ParseTopology([]byte(topologyJSON))
	require.NoError(t, err)

	require.Len(t, topology.Exchanges, 2)
	assert.Equal(t, "events", topology.Exchanges[0].Name)
	assert.Equal(t, amqp.ExchangeTopic, topology.Exchanges[0].Kind)
	require.Len(t, topology.Exchanges[1].Bindings, 1)
	assert.Equal(t, "#", topology.Exchanges[1].Bindings[0].RoutingKey)

	require.Len(t, topology.Queues, 1)
	args := topology.Queues[0].Arguments
	assert.Equal(t, int64(60000), args["x-message-ttl"], "whole numbers must not be sent as doubles")
	assert.Equal(t, "quorum", args["x-queue-type"])
	assert.Equal(t, 0.5, args["x-ratio"])
	assert.Equal(t, amqp.Table{"limit": int64(10)}, args["x-nested"])

	require.Len(t, topology.Channels, 1)
	require.NotNil(t, topology.Channels[0].Qos)
	assert.Equal(t, 20, topology.Channels[0].Qos.PrefetchCount)
	assert.Equal(t, "orders-worker", topology.Channels[0].Consumers[0].Tag)
}

func TestParseTopologyErrors(t *testing.T) {
	tests := []struct {
		name    string
		blob    string
		wantMsg string
	}{
		{name: "malformed json", blob: `{"exchanges": [`},
		{name: "unknown exchange kind", blob: `{"exchanges": [{"name": "e", "kind": "round-robin"}]}`, wantMsg: "unknown kind"},
		{name: "empty queue name", blob: `{"queues": [{"name": ""}]}`, wantMsg: "empty name"},
		{name: "binding without source", blob: `{"queues": [{"name": "q", "bindings": [{"routing_key": "k"}]}]}`, wantMsg: "without source"},
		{name: "consumer without queue", blob: `{"channels": [{"consumers": [{"tag": "c"}]}]}`, wantMsg: "empty queue"},
		{name: "negative prefetch", blob: `{"channels": [{"qos": {"prefetch_count": -1}}]}`, wantMsg: "negative prefetch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTopology([]byte(tt.blob))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTopology)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	topology := Topology{
		Exchanges: []ExchangeDefinition{{Name: "", Kind: "direct"}},
		Queues:    []QueueDefinition{{Name: ""}},
	}
	err := topology.Validate()
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "empty name"))
}

func TestValidateAcceptsPluginExchangeKinds(t *testing.T) {
	topology := Topology{
		Exchanges: []ExchangeDefinition{{Name: "delayed", Kind: "x-delayed-message"}},
	}
	assert.NoError(t, topology.Validate())
}

func TestPublisherTopologyDropsChannels(t *testing.T) {
	topology, err := PublisherTopology([]byte(topologyJSON))
	require.NoError(t, err)
	assert.Empty(t, topology.Channels)
	assert.Len(t, topology.Exchanges, 2)
	assert.Len(t, topology.Queues, 1)
}

func TestCloneIsDeep(t *testing.T) {
	original, err := ParseTopology([]byte(topologyJSON))
	require.NoError(t, err)

	clone := original.Clone()
	clone.Queues[0].Arguments["x-message-ttl"] = int64(1)
	clone.Queues[0].Bindings[0].RoutingKey = "changed"
	clone.Channels[0].Qos.PrefetchCount = 1
	clone.Channels[0].Consumers[0].Tag = "changed"
	clone.Queues[0].Arguments["x-nested"].(amqp.Table)["limit"] = int64(99)

	assert.Equal(t, int64(60000), original.Queues[0].Arguments["x-message-ttl"])
	assert.Equal(t, "order.created", original.Queues[0].Bindings[0].RoutingKey)
	assert.Equal(t, 20, original.Channels[0].Qos.PrefetchCount)
	assert.Equal(t, "orders-worker", original.Channels[0].Consumers[0].Tag)
	assert.Equal(t, int64(10), original.Queues[0].Arguments["x-nested"].(amqp.Table)["limit"])
}

func TestRestoreDeclaresEverything(t *testing.T) {
	topology, err := ParseTopology([]byte(topologyJSON))
	require.NoError(t, err)

	b := newFakeBroker()
	conn, err := b.dial("")
	require.NoError(t, err)

	restored, err := topology.Restore(conn)
	require.NoError(t, err)

	assert.True(t, b.hasExchange("events"))
	assert.True(t, b.hasExchange("events.audit"))
	assert.Equal(t, 1, b.consumerCount("orders"))

	require.Equal(t, 1, restored.Len())
	rc := restored.Channel(0)
	require.NotNil(t, rc)
	require.Equal(t, 1, rc.Len())
	consumer := rc.Consumer(0)
	require.NotNil(t, consumer)
	assert.Equal(t, "orders-worker", consumer.Tag)
	assert.Equal(t, "orders", consumer.Queue)
	assert.Equal(t, ConsumerActive, consumer.State())

	assert.Nil(t, restored.Channel(1))
	assert.Nil(t, rc.Consumer(1))
	assert.Nil(t, rc.Consumer(-1))
}

func TestRestoreBindsExchangesDeclaredLater(t *testing.T) {
	topology := Topology{
		Exchanges: []ExchangeDefinition{
			{Name: "downstream", Kind: amqp.ExchangeFanout, Bindings: []BindingDefinition{{Source: "upstream"}}},
			{Name: "upstream", Kind: amqp.ExchangeTopic},
		},
	}

	b := newFakeBroker()
	conn, err := b.dial("")
	require.NoError(t, err)

	_, err = topology.Restore(conn)
	require.NoError(t, err)
}

func TestRestoreGeneratesConsumerTags(t *testing.T) {
	b := newFakeBroker()
	conn, err := b.dial("")
	require.NoError(t, err)

	first, err := consumerTopology().Restore(conn)
	require.NoError(t, err)
	second, err := consumerTopology().Restore(conn)
	require.NoError(t, err)

	tagA := first.Channel(0).Consumer(0).Tag
	tagB := second.Channel(0).Consumer(0).Tag
	assert.True(t, strings.HasPrefix(tagA, "ctag-"))
	assert.NotEqual(t, tagA, tagB)
}

func TestRestoreFailures(t *testing.T) {
	t.Run("declare error", func(t *testing.T) {
		b := newFakeBroker()
		b.setDeclareErr(errors.New("ACCESS_REFUSED"))
		conn, err := b.dial("")
		require.NoError(t, err)

		_, err = consumerTopology().Restore(conn)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTopologyRestore)
		assert.Contains(t, err.Error(), "ACCESS_REFUSED")
	})

	t.Run("consume from undeclared queue", func(t *testing.T) {
		topology := Topology{
			Channels: []ChannelDefinition{{Consumers: []ConsumerDefinition{{Queue: "nowhere"}}}},
		}
		b := newFakeBroker()
		conn, err := b.dial("")
		require.NoError(t, err)

		_, err = topology.Restore(conn)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTopologyRestore)
		assert.Contains(t, err.Error(), "nowhere")
	})

	t.Run("closed connection", func(t *testing.T) {
		b := newFakeBroker()
		conn, err := b.dial("")
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		_, err = consumerTopology().Restore(conn)
		assert.ErrorIs(t, err, ErrChannelFailed)
	})
}

func TestConsumerStateTracksBroker(t *testing.T) {
	restore := func(t *testing.T, b *fakeBroker) *RestoredConsumer {
		conn, err := b.dial("")
		require.NoError(t, err)
		restored, err := consumerTopology().Restore(conn)
		require.NoError(t, err)
		return restored.Channel(0).Consumer(0)
	}

	t.Run("client cancel", func(t *testing.T) {
		b := newFakeBroker()
		consumer := restore(t, b)
		require.NoError(t, consumer.Cancel())
		assert.Equal(t, ConsumerCancelled, consumer.State())
		assert.Equal(t, []string{consumer.Tag}, b.cancelledTags())
	})

	t.Run("broker cancel", func(t *testing.T) {
		b := newFakeBroker()
		consumer := restore(t, b)
		b.cancelConsumers(testQueue)
		assert.Equal(t, ConsumerCancelled, consumer.State())
	})

	t.Run("channel closed", func(t *testing.T) {
		b := newFakeBroker()
		consumer := restore(t, b)
		b.closeChannels()
		assert.Equal(t, ConsumerErrored, consumer.State())

		_, ok := <-consumer.Deliveries()
		assert.False(t, ok)
	})
}
