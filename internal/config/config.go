package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/Orbit/internal/store"
)

// Config — настройки scheduler'а и evaluator'а.
//
// Значения заполняются флагами и переменными окружения в cmd/,
// здесь только значения по умолчанию и проверка.
type Config struct {
	// ReplicaName — имя реплики (владелец leases, CreatedBy executions).
	ReplicaName string `validate:"required"`

	// DefaultTenant подставляется flows без tenant.
	DefaultTenant string `validate:"required"`

	// Tenant ограничивает scheduler одним tenant'ом. Пусто — все.
	Tenant string

	StoreURL   string `validate:"required"`
	QueueURL   string `validate:"required"`
	CatalogURL string `validate:"required"`

	TickInterval      time.Duration `validate:"gte=100ms"`
	EvaluationTimeout time.Duration `validate:"gt=0"`
	EvaluationWorkers int           `validate:"gte=1,lte=1024"`
	BatchSize         int           `validate:"gte=1"`
	LeaseTTL          time.Duration `validate:"gtefield=EvaluationTimeout"`

	DefaultWindowSpan   time.Duration `validate:"gt=0"`
	DefaultPollInterval time.Duration `validate:"gte=1s"`

	// FailureBackoff / MaxFailureBackoff — задержка после ошибок вычисления.
	FailureBackoff    time.Duration `validate:"gt=0"`
	MaxFailureBackoff time.Duration `validate:"gtefield=FailureBackoff"`

	ConflictRetries uint64 `validate:"gte=1,lte=100"`

	// RemoteEvaluation — вычислять триггеры через orbit-evaluator.
	RemoteEvaluation bool

	AuditBuffer int `validate:"gte=1"`

	LogLevel       string `validate:"oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json text"`
	HTTPAddr       string `validate:"required"`
	TracingEnabled bool
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		ReplicaName:         defaultReplicaName(),
		DefaultTenant:       "main",
		StoreURL:            "memory://",
		QueueURL:            "memory://",
		CatalogURL:          "memory://",
		TickInterval:        time.Second,
		EvaluationTimeout:   30 * time.Second,
		EvaluationWorkers:   8,
		BatchSize:           100,
		LeaseTTL:            time.Minute,
		DefaultWindowSpan:   24 * time.Hour,
		DefaultPollInterval: time.Minute,
		FailureBackoff:      5 * time.Second,
		MaxFailureBackoff:   5 * time.Minute,
		ConflictRetries:     5,
		AuditBuffer:         1024,
		LogLevel:            "info",
		LogFormat:           "json",
		HTTPAddr:            ":8080",
	}
}

var validate = validator.New()

// Validate проверяет конфигурацию.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Retry возвращает политику повторов при конфликте версий.
func (c Config) Retry() store.RetryPolicy {
	p := store.DefaultRetryPolicy()
	p.MaxRetries = c.ConflictRetries
	return p
}

func defaultReplicaName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "orbit"
	}
	return host
}
