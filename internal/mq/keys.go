package mq

import "fmt"

// Keyed — сущность со стабильным уникальным идентификатором.
// Сообщения с одинаковым ключом бэкенд вправе компактировать.
type Keyed interface {
	QueueKey() string
}

// Telemetry — append-only запись (строка лога, метрика).
// Такие сообщения не имеют ключа и никогда не компактируются.
type Telemetry interface {
	TelemetryRecord()
}

// KeyOf возвращает ключ адресации для v.
//
//   - Keyed     → (ключ, true, nil)
//   - Telemetry → ("", false, nil)
//   - иное      → ErrUnkeyable
//
// Пустой ключ у Keyed-сущности тоже считается ошибкой использования.
func KeyOf(v any) (string, bool, error) {
	switch t := v.(type) {
	case nil:
		return "", false, fmt.Errorf("%w: nil", ErrUnkeyable)
	case Keyed:
		key := t.QueueKey()
		if key == "" {
			return "", false, fmt.Errorf("%w: %T has empty key", ErrUnkeyable, v)
		}
		return key, true, nil
	case Telemetry:
		return "", false, nil
	}
	return "", false, fmt.Errorf("%w: %T", ErrUnkeyable, v)
}
