package auth_test

import (
	"context"
	"errors"
	"testing"

	auth "github.com/goliatone/go-blog-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockLogger implements auth.Logger
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, args ...any) { m.Called(msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.Called(msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.Called(msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.Called(msg, args) }

func TestMultiActivitySink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	failing := auth.ActivitySinkFunc(func(context.Context, auth.ActivityEvent) error {
		return errors.New("sink down")
	})

	sink := auth.MultiActivitySink(a, nil, failing, b)
	err := sink.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess})

	assert.Error(t, err)
	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLoginSuccess}, a.Types())
	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLoginSuccess}, b.Types())
}

func TestActivitySinkFunc_Nil(t *testing.T) {
	var f auth.ActivitySinkFunc
	assert.NoError(t, f.Record(context.Background(), auth.ActivityEvent{}))
}

func TestLoggerActivitySink(t *testing.T) {
	logger := new(MockLogger)
	logger.On("Info", "auth activity", mock.MatchedBy(func(args []any) bool {
		return len(args) == 6 &&
			args[0] == "event" && args[1] == string(auth.ActivityEventRateLimited) &&
			args[2] == "user_id" && args[3] == "u-1" &&
			args[4] == "scope" && args[5] == "password_reset_email"
	})).Once()

	sink := auth.LoggerActivitySink(logger)
	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventRateLimited,
		UserID:    "u-1",
		Metadata:  map[string]any{"scope": "password_reset_email"},
	})

	assert.NoError(t, err)
	logger.AssertExpectations(t)
}

func TestActivityEventsCarryTimestamp(t *testing.T) {
	f := newResetFixture(t)

	_ = f.service.IssueToken(context.Background(), "alice@example.com")

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	for _, e := range f.sink.events {
		assert.Equal(t, t0, e.OccurredAt)
	}
}
