package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeFiltersByTopic(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(TopicGraduated)
	defer cancel()

	b.Publish(TopicGraduationImminent, map[string]interface{}{"mint": "abc"}, "sniper")
	b.Publish(TopicGraduated, map[string]interface{}{"mint": "xyz"}, "sniper")

	select {
	case evt := <-ch:
		assert.Equal(t, TopicGraduated, evt.Topic)
		assert.Equal(t, "xyz", evt.Payload["mint"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case <-ch:
		t.Fatal("should not have received a second event")
	default:
	}
}

func TestSubscribeAllTopics(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(TopicSnipeSold, nil, "sniper")

	select {
	case evt := <-ch:
		assert.Equal(t, TopicSnipeSold, evt.Topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestDropOldestWhenSubscriberBacklogFull(t *testing.T) {
	b := New(WithCapacity(2))
	ch, cancel := b.Subscribe(TopicGraduated)
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Publish(TopicGraduated, map[string]interface{}{"n": i}, "test")
	}

	stats := b.Stats()
	assert.Greater(t, stats.Dropped, uint64(0))
	assert.Equal(t, 2, len(ch))

	// The surviving events should be the most recent ones, not the oldest.
	first := <-ch
	assert.Equal(t, 3, int(first.Payload["n"].(int)))
}

func TestCancelClosesChannel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(TopicGraduated)
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")
}

func TestPublishNeverPanics(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() {
		b.Publish("", nil, "")
	})
}

func TestStatsTracksPublishedCount(t *testing.T) {
	b := New()
	_, cancel := b.Subscribe(TopicGraduated)
	defer cancel()

	b.Publish(TopicGraduated, nil, "test")
	b.Publish(TopicGraduated, nil, "test")

	require.Equal(t, uint64(2), b.Stats().Published)
	require.Equal(t, 1, b.Stats().SubscriberCt)
}
