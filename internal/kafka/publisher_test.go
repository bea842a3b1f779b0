package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shooting-range/internal/domain"
)

func newTestPublisher(t *testing.T) (*Publisher, *mocks.SyncProducer) {
	t.Helper()
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	return NewPublisherWithProducer(producer, "range-session-results", slog.New(slog.NewTextHandler(io.Discard, nil))), producer
}

func TestPublishSessionFinished(t *testing.T) {
	publisher, producer := newTestPublisher(t)
	finishedAt := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	summary := domain.FinishSummary{
		ID:         "s1",
		PlayerID:   "p1",
		Score:      35,
		Hits:       3,
		Misses:     1,
		FinishedAt: finishedAt,
	}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "range-session-results" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "p1" {
			return errors.New("message must be keyed by player")
		}

		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var got SessionFinishedMessage
		if err := json.Unmarshal(raw, &got); err != nil {
			return err
		}
		if got.SessionID != "s1" || got.Mode != domain.ModeArcade || got.Score != 35 || got.Hits != 3 || got.Misses != 1 {
			return errors.New("unexpected payload " + string(raw))
		}
		if !got.FinishedAt.Equal(finishedAt) {
			return errors.New("unexpected finished_at")
		}
		return nil
	})

	require.NoError(t, publisher.PublishSessionFinished(context.Background(), domain.ModeArcade, summary))
	require.NoError(t, publisher.Close())
}

func TestPublishSessionFinished_ProducerError(t *testing.T) {
	publisher, producer := newTestPublisher(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := publisher.PublishSessionFinished(context.Background(), domain.ModePrecision, domain.FinishSummary{ID: "s1", PlayerID: "p1"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, publisher.Close())
}

func TestPublishSessionFinished_CancelledContext(t *testing.T) {
	publisher, _ := newTestPublisher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishSessionFinished(ctx, domain.ModeArcade, domain.FinishSummary{ID: "s1"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, publisher.Close())
}
