package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	var got []string
	record := func(name string) Handler {
		return HandlerFunc(func(_ context.Context, msg *Message) error {
			got = append(got, name+":"+msg.Topic)
			return nil
		})
	}

	t.Run("dispatches by topic", func(t *testing.T) {
		got = nil
		r := NewRouter(logger, nil)
		r.Register("changes", record("changes"))

		assert.NoError(t, r.Handle(ctx, &Message{Topic: "changes"}))
		assert.Equal(t, []string{"changes:changes"}, got)
	})

	t.Run("unknown topic without fallback is skipped", func(t *testing.T) {
		got = nil
		r := NewRouter(logger, nil)
		assert.NoError(t, r.Handle(ctx, &Message{Topic: "other", Key: []byte("k")}))
		assert.Empty(t, got)
	})

	t.Run("unknown topic goes to fallback", func(t *testing.T) {
		got = nil
		r := NewRouter(logger, record("fallback"))
		assert.NoError(t, r.Handle(ctx, &Message{Topic: "other"}))
		assert.Equal(t, []string{"fallback:other"}, got)
	})

	t.Run("topics are sorted and unique", func(t *testing.T) {
		r := NewRouter(logger, nil)
		assert.Empty(t, r.Topics())
		r.Register("b.changes", record("b"))
		r.Register("a.changes", record("a"))
		r.Register("b.changes", record("b2"))
		assert.Equal(t, []string{"a.changes", "b.changes"}, r.Topics())
	})

	t.Run("handler errors propagate", func(t *testing.T) {
		boom := errors.New("boom")
		r := NewRouter(logger, nil)
		r.Register("changes", HandlerFunc(func(context.Context, *Message) error { return boom }))
		assert.ErrorIs(t, r.Handle(ctx, &Message{Topic: "changes"}), boom)
	})
}
