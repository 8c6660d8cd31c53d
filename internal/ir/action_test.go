package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeActionAddsType(t *testing.T) {
	data, err := EncodeAction(&UpdateBotAction{
		ID:       "b1",
		BotPatch: BotPatch{Tags: map[string]*string{"color": StringPtr("red"), "old": nil}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"update_bot","id":"b1","tags":{"color":"red","old":null}}`, string(data))
}

func TestDecodeActionRoundTrip(t *testing.T) {
	original := &RejectAction{Action: Toast("hi")}

	data, err := EncodeAction(original)
	require.NoError(t, err)

	decoded, err := DecodeAction(data)
	require.NoError(t, err)

	reject, ok := decoded.(*RejectAction)
	require.True(t, ok)
	host, ok := reject.Action.(*HostAction)
	require.True(t, ok)
	assert.Equal(t, "toast", host.Type)
	assert.Equal(t, "hi", host.Payload["message"])
}

func TestDecodeActionUnknownType(t *testing.T) {
	_, err := DecodeAction([]byte(`{"type":"teleport"}`))
	assert.Error(t, err)
}

func TestIsMutation(t *testing.T) {
	assert.True(t, IsMutation(&AddBotAction{}))
	assert.True(t, IsMutation(&RemoveBotAction{}))
	assert.True(t, IsMutation(&UpdateBotAction{}))
	assert.False(t, IsMutation(Toast("x")))
	assert.False(t, IsMutation(&AsyncResultAction{}))
}

func TestBatchDigestOrderSensitive(t *testing.T) {
	a := Toast("a")
	b := Toast("b")

	d1 := MustBatchDigest([]Action{a, b})
	d2 := MustBatchDigest([]Action{Toast("a"), Toast("b")})
	d3 := MustBatchDigest([]Action{b, a})

	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1, d3)
	assert.Len(t, d1, 64)
}
