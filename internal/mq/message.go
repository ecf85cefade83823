package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topic — логический канал сообщений.
type Topic string

// Топики.
const (
	// TopicExecutions — ExecutionCreated, ExecutionStateChanged.
	// Потребители: пул воркеров, flow-триггеры.
	TopicExecutions Topic = "orbit.executions"

	// TopicTransitions — TransitionRequest от воркеров и Kill.
	// Потребитель: executor scheduler'а.
	TopicTransitions Topic = "orbit.transitions"

	// TopicEvaluations — TriggerEvaluationRequested.
	// Потребитель: orbit-evaluator.
	TopicEvaluations Topic = "orbit.evaluations"

	// TopicEvaluationResults — TriggerEvaluationResult.
	// Потребитель: scheduler.
	TopicEvaluationResults Topic = "orbit.evaluation-results"

	// TopicAudit — аудит переходов и срабатываний триггеров.
	TopicAudit Topic = "orbit.audit"

	// TopicTelemetry — строки лога и метрики (без ключа).
	TopicTelemetry Topic = "orbit.telemetry"
)

// MessageType — тип сообщения.
type MessageType string

// Типы сообщений.
const (
	MessageTypeExecutionCreated      MessageType = "execution.created"
	MessageTypeExecutionStateChanged MessageType = "execution.state_changed"
	MessageTypeTransitionRequest     MessageType = "execution.transition_request"
	MessageTypeEvaluationRequested   MessageType = "trigger.evaluation_requested"
	MessageTypeEvaluationResult      MessageType = "trigger.evaluation_result"
	MessageTypeAudit                 MessageType = "audit.record"
	MessageTypeLog                   MessageType = "telemetry.log"
	MessageTypeMetric                MessageType = "telemetry.metric"
)

// Message — конверт сообщения. Одинаков для всех бэкендов.
type Message struct {
	// ID — уникальный идентификатор доставки (не ключ).
	ID string `json:"id"`

	Type MessageType `json:"type"`

	// Key — ключ адресации; пустой для телеметрии.
	Key string `json:"key,omitempty"`

	Payload json.RawMessage `json:"payload"`

	Timestamp time.Time `json:"timestamp"`
}

// NewMessage упаковывает payload в конверт. Ключ берётся через KeyOf.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	key, _, err := KeyOf(payload)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Key:       key,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ParsePayload декодирует payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return result, fmt.Errorf("unmarshal %s payload: %w", msg.Type, err)
	}
	return result, nil
}

// Handler обрабатывает сообщение.
//
// nil — сообщение подтверждается; ошибка, обёрнутая в ErrDrop, — подтверждается
// без повторной доставки; любая другая ошибка — сообщение возвращается в очередь.
type Handler func(ctx context.Context, msg *Message) error

// Queue — ключевой канал сообщений с доставкой at-least-once.
//
// Порядок гарантируется только для сообщений с одним ключом от одного
// производителя. Обработчики обязаны быть идемпотентными.
type Queue interface {
	// Publish публикует payload. Тип payload должен проходить KeyOf.
	Publish(ctx context.Context, topic Topic, msgType MessageType, payload any) error

	// Consume блокируется и доставляет сообщения topic в handler, пока ctx жив.
	// Потребители одной group делят сообщения, разные group получают копии.
	// После обрыва соединения потребление возобновляется автоматически.
	Consume(ctx context.Context, topic Topic, group string, handler Handler) error

	Close() error
}
