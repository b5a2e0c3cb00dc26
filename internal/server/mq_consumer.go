package server

import (
	"context"
	"encoding/json"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// TriggerIssuer 处理发放触发事件
type TriggerIssuer interface {
	IssueFromTrigger(ctx context.Context, event *biz.TriggerEvent) (*biz.IssueResult, error)
}

// MQConsumerServer consumes credit trigger events from RocketMQ
type MQConsumerServer struct {
	c       rocketmq.PushConsumer
	issuer  TriggerIssuer
	conf    *conf.Rocketmq
	log     *log.Helper
	enabled bool
}

// NewMQConsumerServer creates a RocketMQ consumer server
func NewMQConsumerServer(c *conf.Bootstrap, uc *biz.CreditUseCase, logger log.Logger) *MQConsumerServer {
	s := &MQConsumerServer{
		issuer: uc,
		log:    log.NewHelper(logger),
	}
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return s
	}
	s.conf = c.Data.Rocketmq

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(s.conf.NameServers)),
		consumer.WithGroupName(s.conf.GroupName),
		consumer.WithRetry(int(s.conf.RetryTimes)),
		consumer.WithConsumeMessageBatchMaxSize(16),
	)
	if err != nil {
		s.log.Errorf("init consumer error: %v", err)
		return s
	}
	s.c = r
	s.enabled = true
	return s
}

// Start starts the consumer
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.conf.TriggerTopic)

	if err := s.c.Subscribe(s.conf.TriggerTopic, consumer.MessageSelector{}, s.handler); err != nil {
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.conf.TriggerTopic, err)
		// 不返回错误，避免导致整个应用启动失败
		return nil
	}

	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		// 不返回错误，避免导致整个应用启动失败
		return nil
	}

	return nil
}

// Stop stops the consumer
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

// handler 逐条发放；消息格式错误、参数非法或幂等 key 冲突时确认消费避免无限重投，其余错误整批稍后重试
// 已成功的消息重投时由幂等 key 去重
func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	m := metrics.GetMetrics()
	for _, msg := range msgs {
		var event biz.TriggerEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			s.log.Errorf("Unmarshal trigger message failed: %v, msgId=%s, body: %s", err, msg.MsgId, string(msg.Body))
			if m != nil {
				m.TriggerConsumeTotal.WithLabelValues("unknown", constants.ResultFailed).Inc()
			}
			continue
		}

		result, err := s.issuer.IssueFromTrigger(ctx, &event)
		if err != nil {
			if creditErrors.IsInvalidArgument(err) || creditErrors.IsIdempotencyKeyMismatch(err) {
				s.log.Errorf("Drop invalid trigger event: msgId=%s, type=%s, session=%s, err=%v", msg.MsgId, event.EventType, event.SessionID, err)
				if m != nil {
					m.TriggerConsumeTotal.WithLabelValues(event.EventType, constants.ResultFailed).Inc()
				}
				continue
			}
			s.log.Errorf("Issue from trigger failed, retry later: msgId=%s, type=%s, session=%s, err=%v", msg.MsgId, event.EventType, event.SessionID, err)
			return consumer.ConsumeRetryLater, nil
		}

		status := constants.ResultSuccess
		if result.Skipped {
			status = constants.ResultSkipped
		}
		if m != nil {
			m.TriggerConsumeTotal.WithLabelValues(event.EventType, status).Inc()
		}
	}
	return consumer.ConsumeSuccess, nil
}
