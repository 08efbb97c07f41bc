package push

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/payment-engine/pkg/events"
	"example.com/payment-engine/pkg/kafka"
)

func newMessage(t *testing.T, userID string, typ events.PushType) *events.PushMessage {
	t.Helper()
	msg, err := events.NewPushMessage(userID, typ, map[string]string{"title": "x"})
	require.NoError(t, err)
	return msg
}

func TestHub_SubscribeAndPush(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe("user-1")
	defer sub.Close()

	assert.True(t, hub.IsOnline("user-1"))
	assert.False(t, hub.IsOnline("user-2"))
	assert.ElementsMatch(t, []string{"user-1"}, hub.OnlineUsers())

	msg := newMessage(t, "user-1", events.PushNotification)
	require.NoError(t, hub.Push(context.Background(), msg))

	got := <-sub.C()
	assert.Equal(t, msg, got)
	assert.Equal(t, events.DestinationNotifications, got.Destination)
}

func TestHub_MultipleStreams(t *testing.T) {
	hub := NewHub(4)
	a := hub.Subscribe("user-1")
	b := hub.Subscribe("user-1")

	require.NoError(t, hub.Push(context.Background(), newMessage(t, "user-1", events.PushOrderUpdate)))
	assert.Len(t, a.C(), 1)
	assert.Len(t, b.C(), 1)

	a.Close()
	assert.True(t, hub.IsOnline("user-1"), "второй поток ещё открыт")

	b.Close()
	assert.False(t, hub.IsOnline("user-1"))

	// Повторное закрытие безопасно.
	b.Close()
}

func TestHub_OfflineAndOverflow(t *testing.T) {
	hub := NewHub(1)

	// Офлайн — не ошибка.
	assert.NoError(t, hub.Push(context.Background(), newMessage(t, "nobody", events.PushNotification)))

	sub := hub.Subscribe("user-1")
	defer sub.Close()

	assert.NoError(t, hub.Push(context.Background(), newMessage(t, "user-1", events.PushNotification)))
	// Буфер заполнен — второе сообщение пропускается без блокировки.
	assert.NoError(t, hub.Push(context.Background(), newMessage(t, "user-1", events.PushNotification)))
	assert.Len(t, sub.C(), 1)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(4)
	a := hub.Subscribe("user-1")
	b := hub.Subscribe("user-2")

	hub.Close()

	_, ok := <-a.C()
	assert.False(t, ok, "канал закрыт")
	_, ok = <-b.C()
	assert.False(t, ok)
	assert.Empty(t, hub.OnlineUsers())

	// Закрытие подписки после Close безопасно.
	a.Close()
}

func TestHub_ConcurrentSubscribe(t *testing.T) {
	hub := NewHub(8)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe("user-1")
			_ = hub.Push(context.Background(), &events.PushMessage{UserID: "user-1", Type: events.PushNotification})
			sub.Close()
		}()
	}
	wg.Wait()

	assert.False(t, hub.IsOnline("user-1"))
}

// =====================================
// Kafka
// =====================================

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendMessage(ctx context.Context, msg *kafka.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func TestKafkaPusher_Push(t *testing.T) {
	sender := new(mockSender)
	sender.On("SendMessage", mock.Anything, mock.MatchedBy(func(m *kafka.Message) bool {
		return m.Topic == kafka.TopicNotificationPush &&
			string(m.Key) == "user-1" &&
			m.Headers[kafka.HeaderEventType] == string(events.PushOrderUpdate)
	})).Return(nil).Once()

	err := NewKafkaPusher(sender).Push(context.Background(), newMessage(t, "user-1", events.PushOrderUpdate))
	assert.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestKafkaPusher_Error(t *testing.T) {
	sender := new(mockSender)
	sender.On("SendMessage", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := NewKafkaPusher(sender).Push(context.Background(), newMessage(t, "user-1", events.PushNotification))
	assert.Error(t, err)
}

func TestRelay_Handle(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe("user-1")
	defer sub.Close()

	msg := newMessage(t, "user-1", events.PushNotification)
	data, err := msg.ToJSON()
	require.NoError(t, err)

	relay := NewRelay(hub)
	require.NoError(t, relay.Handle(context.Background(), &kafka.Message{Value: data}))

	got := <-sub.C()
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, events.PushNotification, got.Type)

	assert.Error(t, relay.Handle(context.Background(), &kafka.Message{Value: []byte("{")}))
	assert.NoError(t, relay.Handle(context.Background(), &kafka.Message{Value: []byte(`{"type":"NOTIFICATION"}`)}))
}
