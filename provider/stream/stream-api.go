package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"go.uber.org/zap"
)

const eventBuffer = 256

// Message is one frame of the common book feed protocol.
type Message[T comparable] struct {
	Topic string                 `json:"topic"`
	Kind  *domain.BookEventKind  `json:"type"`
	Data  *domain.BookMessage[T] `json:"data"`
}

// StreamAPI turns the frames of a StreamClient into book events.
type StreamAPI[T comparable] struct {
	venue        string
	streamClient *StreamClient
	logger       *zap.Logger
}

func NewStreamAPI[T comparable](venue string, client *StreamClient, logger *zap.Logger) *StreamAPI[T] {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StreamAPI[T]{
		venue:        venue,
		streamClient: client,
		logger:       logger.Named("stream-api").With(zap.String("venue", venue)),
	}
}

func BookTopic(isin string) string {
	return fmt.Sprintf("book.%s", isin)
}

func (a *StreamAPI[T]) BookStream(ctx context.Context, isin string) (*domain.Subscription[*domain.BookEvent[T]], error) {
	topic := BookTopic(isin)

	subscription, err := a.streamClient.Subscribe(topic)
	if err != nil {
		return nil, err
	}

	s := make(chan *domain.BookEvent[T], eventBuffer)

	go func() {
		defer close(s)

		for {
			select {
			case <-ctx.Done():
				subscription.Unsubscribe()
				return
			case <-subscription.Done:
				return
			case msg := <-subscription.Stream:
				event, err := DecodeBookEvent[T](msg)
				if err != nil {
					a.logger.Warn("error unmarshaling book frame", zap.String("topic", topic), zap.Error(err))
					continue
				}
				if event.Message.Isin == "" {
					event.Message.Isin = isin
				}

				select {
				case s <- event:
				case <-subscription.Done:
					return
				case <-ctx.Done():
					subscription.Unsubscribe()
					return
				}
			}
		}
	}()

	return &domain.Subscription[*domain.BookEvent[T]]{
		Stream:      s,
		Unsubscribe: subscription.Unsubscribe,
		Topic:       topic,
	}, nil
}

func DecodeBookEvent[T comparable](frame []byte) (*domain.BookEvent[T], error) {
	var message Message[T]
	if err := json.Unmarshal(frame, &message); err != nil {
		return nil, err
	}
	if message.Kind == nil {
		return nil, errors.New("frame has no type")
	}
	if message.Data == nil {
		return nil, errors.New("frame has no data")
	}

	return &domain.BookEvent[T]{
		Kind:    *message.Kind,
		Message: message.Data,
	}, nil
}
