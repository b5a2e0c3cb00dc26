package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// LedgerEvent 发布到 ledger topic 的消息体
type LedgerEvent struct {
	EntryID        string         `json:"entry_id"`
	AccountID      string         `json:"account_id"`
	OrgID          string         `json:"org_id,omitempty"`
	Kind           string         `json:"kind"`
	Amount         int64          `json:"amount"`
	Reason         string         `json:"reason"`
	BalanceAfter   int64          `json:"balance_after"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	ActionKey      string         `json:"action_key,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ledgerEventPublisher 通过 RocketMQ 发布流水事件
type ledgerEventPublisher struct {
	data  *Data
	topic string
	log   *log.Helper
}

// NewLedgerEventPublisher 未启用 RocketMQ 时返回 nil
func NewLedgerEventPublisher(data *Data, logger log.Logger) biz.LedgerEventPublisher {
	if data.mq == nil || data.mqc == nil || data.mqc.LedgerTopic == "" {
		return nil
	}
	return &ledgerEventPublisher{
		data:  data,
		topic: data.mqc.LedgerTopic,
		log:   log.NewHelper(logger),
	}
}

// PublishLedgerEntry 同步发送，按账户设置 sharding key 保证单账户内有序
func (p *ledgerEventPublisher) PublishLedgerEntry(ctx context.Context, entry *biz.LedgerEntry) error {
	body, err := json.Marshal(&LedgerEvent{
		EntryID:        entry.ID,
		AccountID:      entry.AccountID,
		OrgID:          entry.OrgID,
		Kind:           string(entry.Kind),
		Amount:         entry.Amount,
		Reason:         entry.Reason,
		BalanceAfter:   entry.BalanceAfter,
		IdempotencyKey: entry.IdempotencyKey,
		ActionKey:      entry.ActionKey,
		Metadata:       entry.Metadata,
		CreatedAt:      entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}

	msg := primitive.NewMessage(p.topic, body)
	msg.WithKeys([]string{entry.ID})
	msg.WithShardingKey(entry.AccountID)
	msg.WithTag(string(entry.Kind))

	m := metrics.GetMetrics()
	if _, err := p.data.mq.SendSync(ctx, msg); err != nil {
		if m != nil {
			m.LedgerPublishTotal.WithLabelValues(constants.ResultFailed).Inc()
		}
		return fmt.Errorf("send ledger event: %w", err)
	}
	if m != nil {
		m.LedgerPublishTotal.WithLabelValues(constants.ResultSuccess).Inc()
	}
	return nil
}
