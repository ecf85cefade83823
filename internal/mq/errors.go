package mq

import "errors"

var (
	// ErrUnkeyable — тип не предназначен для публикации в очередь.
	ErrUnkeyable = errors.New("value has no queue key")

	// ErrDrop — обработчик просит подтвердить сообщение без повторной доставки.
	ErrDrop = errors.New("drop message")

	// ErrClosed — очередь закрыта.
	ErrClosed = errors.New("queue closed")

	// ErrUnsupportedScheme — неизвестная схема URL очереди.
	ErrUnsupportedScheme = errors.New("unsupported queue scheme")

	// ErrNoChannel — AMQP канал ещё не открыт (идёт переподключение).
	ErrNoChannel = errors.New("no channel available")
)
