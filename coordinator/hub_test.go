package coordinator

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cealn-go/cealn/buildevent"
	"github.com/cealn-go/cealn/common"
	"github.com/cealn-go/cealn/label"
)

func newTestSession(t *testing.T, buf int) *Session {
	t.Helper()
	return &Session{
		ID:     1,
		Events: make(chan buildevent.BuildEvent, buf),
		log:    common.NewContextLogger(common.Logger, nil),
		done:   make(chan struct{}),
	}
}

func TestSession_PublishDropsWhenFull(t *testing.T) {
	s := newTestSession(t, 1)
	src, err := label.Parse("//pkg:target")
	require.NoError(t, err)

	s.Publish(buildevent.QueryRunStart(src))
	s.Publish(buildevent.QueryRunEnd(src)) // buffer full, dropped

	ev := <-s.Events
	assert.Equal(t, buildevent.KindQueryRunStart, ev.Data.Kind)
	select {
	case <-s.Events:
		t.Fatal("expected no second event, buffer should have dropped it")
	default:
	}
}

func TestLogHook_FiresMessageEvent(t *testing.T) {
	s := newTestSession(t, 4)
	src, err := label.Parse("//pkg:target")
	require.NoError(t, err)

	logger := logrus.New()
	logger.AddHook(NewLogHook(s, src, logrus.InfoLevel))
	logger.Info("hello")

	ev := <-s.Events
	assert.Equal(t, buildevent.KindMessage, ev.Data.Kind)
	assert.Equal(t, "hello", ev.Data.Message)
}
