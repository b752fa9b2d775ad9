package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/infra"
)

// RuleSignals разносит факт изменения доступа между инстансами, делящими одно хранилище.
// Живые правила у каждого инстанса свои, поэтому чужое изменение лечится сверкой.
type RuleSignals struct {
	rdb      *redis.Client
	channel  string
	instance string
	logger   *zap.Logger
}

func NewRuleSignals(rdb *redis.Client, logger *zap.Logger) *RuleSignals {
	return &RuleSignals{
		rdb:      rdb,
		channel:  infra.RedisKey(infra.ChannelRulesChanged),
		instance: uuid.NewString(),
		logger:   logger.Named("signals"),
	}
}

// Publish сообщает остальным инстансам, что записи origin'а изменились.
// Ошибка не ломает изменение: оно уже сохранено.
func (s *RuleSignals) Publish(ctx context.Context, origin string) {
	if err := s.rdb.Publish(ctx, s.channel, s.instance+"|"+origin).Err(); err != nil {
		s.logger.Warn("publish rule change failed", zap.String("origin", origin), zap.Error(err))
	}
}

// Listen: живучая подписка: переподключается сама и зовет onReconnect после
// каждого успешного коннекта, чтобы не потерять изменения за время разрыва.
func (s *RuleSignals) Listen(ctx context.Context, onReconnect func(ctx context.Context) error, onChange func(origin string)) {
	for {
		pubsub := s.rdb.Subscribe(ctx, s.channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("failed to subscribe", zap.String("chan", s.channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if err := onReconnect(ctx); err != nil {
			s.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Формат "instance|origin"
				instance, origin, found := strings.Cut(msg.Payload, "|")
				if !found {
					s.logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				if instance == s.instance {
					continue
				}
				onChange(origin)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
