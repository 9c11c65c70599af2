package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"dmarket_sync/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	name string
	mu   sync.Mutex
	sent []Payload
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Send(ctx context.Context, alert Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	return nil
}

func (m *mockChannel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockChannel) first() Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[0]
}

func TestManager_BroadcastsToAllChannels(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	m := NewManager(logger)
	ch1 := &mockChannel{name: "mock1"}
	ch2 := &mockChannel{name: "mock2"}
	m.AddChannel(ch1)
	m.AddChannel(ch2)

	m.Alert(context.Background(), "Worker failure", "cycle aborted", Error,
		map[string]string{"instance": "bot-a"})

	require.Eventually(t, func() bool {
		return ch1.count() == 1 && ch2.count() == 1
	}, time.Second, 10*time.Millisecond)

	payload := ch1.first()
	assert.Equal(t, "Worker failure", payload.Title)
	assert.Equal(t, Error, payload.Level)
	assert.Equal(t, "bot-a", payload.Fields["instance"])
}

func TestManager_NoChannelsIsNoop(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	m := NewManager(logger)
	m.Alert(context.Background(), "ignored", "no channels", Info, nil)
}
