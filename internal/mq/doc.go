// Package mq — абстракция очереди сообщений.
//
// Структура:
//   - keys.go            — KeyOf: ключ адресации сообщения
//   - message.go         — конверт Message, Topic, Handler, интерфейс Queue
//   - payloads.go        — payload'ы сообщений
//   - amqp_connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - amqp.go            — Queue поверх RabbitMQ (fanout exchange на топик, очередь на группу)
//   - watermill.go       — Queue поверх watermill, in-memory GoChannel
//   - kafka.go           — Kafka через watermill-kafka (ключ → partition key)
//   - open.go            — выбор бэкенда по URL
//
// Сообщения:
//   - execution.created             — новый execution
//   - execution.state_changed       — принятый переход состояния
//   - execution.transition_request  — запрос перехода от воркера
//   - trigger.evaluation_requested  — запрос удалённой оценки триггера
//   - trigger.evaluation_result     — результат оценки
//   - audit.record                  — аудит
//   - telemetry.log/metric          — телеметрия без ключа
//
// Доставка at-least-once, обработчики должны быть идемпотентными.
package mq
