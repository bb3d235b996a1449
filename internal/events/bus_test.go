package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Init()
	goleak.VerifyTestMain(m)
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus()

	var got []int
	bus.Subscribe("job:abc", func(ev Event) {
		got = append(got, ev.Progress)
	})

	for _, p := range []int{5, 15, 42, 85, 100} {
		delivered := bus.Publish("job:abc", Event{Type: TypeJobUpdate, JobID: "abc", Progress: p})
		assert.Equal(t, 1, delivered)
	}

	assert.Equal(t, []int{5, 15, 42, 85, 100}, got)
}

func TestPublishToUnknownTopicDeliversNothing(t *testing.T) {
	bus := NewBus()
	assert.Equal(t, 0, bus.Publish("job:nobody", Event{Type: TypeJobUpdate}))
}

func TestPublishJobUpdateFansOutToThreeTopics(t *testing.T) {
	bus := NewBus()

	var jobHits, projectHits, allHits int
	bus.Subscribe(TopicJob("j1"), func(Event) { jobHits++ })
	bus.Subscribe(TopicProject("p1"), func(Event) { projectHits++ })
	bus.Subscribe(TopicAll, func(Event) { allHits++ })

	bus.PublishJobUpdate(Event{JobID: "j1", ProjectID: "p1", State: "RUNNING", Progress: 42})

	assert.Equal(t, 1, jobHits)
	assert.Equal(t, 1, projectHits)
	assert.Equal(t, 1, allHits)
}

func TestPublishJobUpdateWithoutProjectSkipsProjectTopic(t *testing.T) {
	bus := NewBus()

	var projectHits, allHits int
	bus.Subscribe(TopicProject("p1"), func(Event) { projectHits++ })
	bus.Subscribe(TopicAll, func(Event) { allHits++ })

	bus.PublishJobUpdate(Event{JobID: "j1", Progress: 5})

	assert.Zero(t, projectHits)
	assert.Equal(t, 1, allHits)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	hits := 0
	sub := bus.Subscribe(TopicAll, func(Event) { hits++ })
	bus.Publish(TopicAll, Event{})
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	bus.Publish(TopicAll, Event{})

	assert.Equal(t, 1, hits)
	assert.Zero(t, bus.Stats().Subscribers)
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewBus()

	var after int
	bus.Subscribe(TopicAll, func(Event) { panic("bad subscriber") })
	bus.Subscribe(TopicAll, func(Event) { after++ })

	require.NotPanics(t, func() {
		bus.Publish(TopicAll, Event{Type: TypeJobUpdate})
	})

	assert.Equal(t, 1, after, "panic in one handler must not starve the next")
	assert.EqualValues(t, 1, bus.Stats().HandlerPanics)
}

func TestStatsCounters(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(TopicAll, func(Event) {})
	bus.Subscribe(TopicAll, func(Event) {})

	bus.Publish(TopicAll, Event{})
	bus.Publish(TopicAll, Event{})

	stats := bus.Stats()
	assert.EqualValues(t, 2, stats.Published)
	assert.EqualValues(t, 4, stats.Delivered)
	assert.Equal(t, 2, stats.Subscribers)
}

func TestEventMarshalUsesUnixMilliseconds(t *testing.T) {
	ts := time.Date(2024, 6, 24, 16, 0, 0, 123e6, time.UTC)
	ev := Event{Type: TypeJobUpdate, JobID: "j1", State: "RUNNING", Progress: 42, Timestamp: ts}

	data, err := ev.MarshalJSON()
	require.NoError(t, err)

	assert.Contains(t, string(data), `"timestamp":1719244800123`)
	assert.Contains(t, string(data), `"jobId":"j1"`)
	assert.Contains(t, string(data), `"progress":42`)
	assert.NotContains(t, string(data), `"Err"`)
}

func TestErrorPublisherAdapter(t *testing.T) {
	bus := NewBus()

	var received []Event
	bus.Subscribe(TopicErrors, func(ev Event) { received = append(received, ev) })

	adapter := NewErrorPublisherAdapter(bus)
	ee := errors.New(errors.NewStd("tool crashed")).Category(errors.CategoryCommandExecution).Build()

	assert.True(t, adapter.PublishError(ee))
	require.Len(t, received, 1)
	assert.Equal(t, TypeError, received[0].Type)
	assert.Equal(t, "tool crashed", received[0].Message)
	assert.Same(t, ee, received[0].Err)

	assert.False(t, adapter.PublishError(nil))
}

func TestAttachErrorPublisherForwardsToReporter(t *testing.T) {
	bus := NewBus()
	reporter := &stubReporter{enabled: true}
	errors.SetTelemetryReporter(reporter)
	t.Cleanup(func() {
		errors.SetTelemetryReporter(nil)
		errors.SetEventPublisher(nil)
	})

	sub := AttachErrorPublisher(bus)
	defer sub.Unsubscribe()

	errors.New(errors.NewStd("boom")).Category(errors.CategoryUpload).Build()

	require.Len(t, reporter.seen, 1)
	assert.Equal(t, "boom", reporter.seen[0].GetMessage())
}

type stubReporter struct {
	enabled bool
	seen    []*errors.EnhancedError
}

func (s *stubReporter) IsEnabled() bool { return s.enabled }
func (s *stubReporter) ReportError(ee *errors.EnhancedError) {
	s.seen = append(s.seen, ee)
}
