package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

func TestFrame(t *testing.T) {
	msg, err := frame(domain.ChannelTransactions, []byte(`{"event":"settlement.confirmed","sender_id":"alice","receiver_id":"bob"}`))
	require.NoError(t, err)
	assert.True(t, msg.holders["alice"])
	assert.True(t, msg.holders["bob"])

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.data, &env))
	assert.Equal(t, "settlement.confirmed", env.Type)
	assert.Equal(t, domain.ChannelTransactions, env.Channel)
	assert.JSONEq(t, `{"event":"settlement.confirmed","sender_id":"alice","receiver_id":"bob"}`, string(env.Payload))

	msg, err = frame(domain.ChannelProperties, []byte(`{"id":"p1"}`))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg.data, &env))
	assert.Equal(t, "properties", env.Type)

	_, err = frame(domain.ChannelProperties, []byte(`not json`))
	assert.Error(t, err)
}

func TestClientWants(t *testing.T) {
	holding, err := frame(domain.ChannelHoldings, []byte(`{"event":"holding.credited","holder_id":"alice"}`))
	require.NoError(t, err)
	property, err := frame(domain.ChannelProperties, []byte(`{"event":"tokenization.issued"}`))
	require.NoError(t, err)

	all := &client{subs: map[string]bool{domain.ChannelHoldings: true, domain.ChannelProperties: true}}
	assert.True(t, all.wants(holding))
	assert.True(t, all.wants(property))

	bob := &client{subs: map[string]bool{domain.ChannelHoldings: true, domain.ChannelProperties: true}, holder: "bob"}
	assert.False(t, bob.wants(holding))
	assert.True(t, bob.wants(property))

	bob.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelProperties}})
	assert.False(t, bob.wants(property))

	bob.handleSubscription(subscribeMsg{HolderID: "alice"})
	assert.True(t, bob.wants(holding))
}
