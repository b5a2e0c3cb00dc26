package server

import (
	"context"
	"errors"
	"testing"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	creditErrors "credit-service/internal/errors"

	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIssuer struct {
	events []*biz.TriggerEvent
	err    error
}

func (f *fakeIssuer) IssueFromTrigger(_ context.Context, event *biz.TriggerEvent) (*biz.IssueResult, error) {
	f.events = append(f.events, event)
	if f.err != nil {
		return nil, f.err
	}
	if _, err := event.ToIssueRequest(); err != nil {
		return nil, err
	}
	return &biz.IssueResult{}, nil
}

func newTestConsumer(issuer TriggerIssuer) *MQConsumerServer {
	return &MQConsumerServer{issuer: issuer, log: log.NewHelper(log.DefaultLogger)}
}

func message(body string) *primitive.MessageExt {
	return &primitive.MessageExt{Message: primitive.Message{Topic: "credit_trigger", Body: []byte(body)}, MsgId: "m-1"}
}

func TestMQConsumer_Handler(t *testing.T) {
	issuer := &fakeIssuer{}
	s := newTestConsumer(issuer)

	result, err := s.handler(context.Background(),
		message(`{"event_type":"topup_completed","session_id":"cs_1","account_id":"acct-1","amount":100,"valid_days":30}`),
		message(`not json`),
		message(`{"event_type":"refund","session_id":"cs_2","account_id":"acct-1","amount":1,"valid_days":1}`),
	)
	require.NoError(t, err)
	assert.Equal(t, consumer.ConsumeSuccess, result)
	require.Len(t, issuer.events, 2)
	assert.Equal(t, "cs_1", issuer.events[0].SessionID)
	assert.Equal(t, 30, issuer.events[0].ValidDays)
}

func TestMQConsumer_HandlerRetriesTransientErrors(t *testing.T) {
	s := newTestConsumer(&fakeIssuer{err: errors.New("connection reset")})
	result, err := s.handler(context.Background(),
		message(`{"event_type":"topup_completed","session_id":"cs_1","account_id":"acct-1","amount":100,"valid_days":30}`))
	require.NoError(t, err)
	assert.Equal(t, consumer.ConsumeRetryLater, result)

	s = newTestConsumer(&fakeIssuer{err: creditErrors.VersionConflict("acct-1")})
	result, _ = s.handler(context.Background(),
		message(`{"event_type":"topup_completed","session_id":"cs_1","account_id":"acct-1","amount":100,"valid_days":30}`))
	assert.Equal(t, consumer.ConsumeRetryLater, result)
}

func TestMQConsumer_HandlerAcksIdempotencyKeyMismatch(t *testing.T) {
	issuer := &fakeIssuer{err: creditErrors.IdempotencyKeyMismatch("topup_completed:cs_1")}
	s := newTestConsumer(issuer)
	result, err := s.handler(context.Background(),
		message(`{"event_type":"topup_completed","session_id":"cs_1","account_id":"acct-1","amount":100,"valid_days":30}`),
		message(`{"event_type":"topup_completed","session_id":"cs_2","account_id":"acct-1","amount":100,"valid_days":30}`))
	require.NoError(t, err)
	assert.Equal(t, consumer.ConsumeSuccess, result)
	assert.Len(t, issuer.events, 2)
}

func TestMQConsumer_Disabled(t *testing.T) {
	s := NewMQConsumerServer(&conf.Bootstrap{}, nil, log.DefaultLogger)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}
