package eventstest

import (
	"context"
	"errors"
	"testing"

	"sharelink/internal/server/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("records in order", func(t *testing.T) {
		r := &Recorder{}
		require.NoError(t, r.Publish(ctx, events.SubjectUploaded, events.FileEvent{Token: "a"}))
		require.NoError(t, r.Publish(ctx, events.SubjectDeleted, events.FileEvent{Token: "a"}))

		assert.Equal(t, []string{events.SubjectUploaded, events.SubjectDeleted}, r.Subjects())
		assert.Equal(t, "a", r.Events()[1].Event.Token)
	})

	t.Run("returns configured error", func(t *testing.T) {
		r := &Recorder{Err: errors.New("broker down")}
		assert.Error(t, r.Publish(ctx, events.SubjectUploaded, events.FileEvent{}))
		assert.Empty(t, r.Events())
	})
}
