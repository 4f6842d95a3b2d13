package common_test

import (
	"testing"

	"github.com/confab-dev/confab/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkAttributesSender(t *testing.T) {
	mailbox := make(chan common.Message[string, int], 4)
	sink := common.NewSink("alice", mailbox)

	require.NoError(t, sink.Send(42))

	msg := <-mailbox
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, 42, msg.Content)
}

func TestSinkSeal(t *testing.T) {
	mailbox := make(chan common.Message[string, int], 4)
	sink := common.NewSink("bob", mailbox)

	sink.Seal()
	assert.ErrorIs(t, sink.Send(1), common.ErrSinkSealed)

	// Sealing one sink must not affect another sender on the same mailbox.
	other := common.NewSink("carol", mailbox)
	assert.NoError(t, other.Send(2))
}

func TestSinkTrySendDoesNotBlock(t *testing.T) {
	mailbox := make(chan common.Message[string, int], 1)
	sink := common.NewSink("dave", mailbox)

	require.NoError(t, sink.TrySend(1))
	assert.Error(t, sink.TrySend(2)) // full
}

func TestChannelCloseReturnsMessage(t *testing.T) {
	sender, receiver := common.NewChannel[int]()

	assert.Nil(t, sender.Send(1))
	receiver.Close()

	returned := sender.Send(2)
	require.NotNil(t, returned)
	assert.Equal(t, 2, *returned)

	// Buffered message remains readable.
	assert.Equal(t, 1, <-receiver.Channel)
}
