package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/Orbit/internal/domain"
)

var (
	// ErrNotFound — flow отсутствует в каталоге.
	ErrNotFound = errors.New("flow not found")

	// ErrInvalidFlow — описание flow не прошло проверку.
	ErrInvalidFlow = errors.New("invalid flow")

	// ErrUnsupportedScheme — неизвестная схема URL каталога.
	ErrUnsupportedScheme = errors.New("unsupported catalog scheme")
)

// Catalog — источник описаний flows.
//
// Каталог должен отражать создание, изменение и удаление flows не хуже,
// чем за один тик scheduler'а.
type Catalog interface {
	// ListActiveFlows возвращает включённые flows tenant'а.
	// Пустой tenant — все tenants.
	ListActiveFlows(ctx context.Context, tenant string) ([]*domain.FlowDescriptor, error)

	// Get возвращает flow по ключу (в том числе отключённый) или ErrNotFound.
	Get(ctx context.Context, key domain.FlowKey) (*domain.FlowDescriptor, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize подставляет tenant по умолчанию.
func Normalize(f *domain.FlowDescriptor, defaultTenant string) {
	if f.Tenant == "" {
		f.Tenant = defaultTenant
	}
}

// Validate проверяет структуру flow: обязательные поля, уникальность ID,
// ссылки между триггерами и composite-условиями.
//
// Семантика триггеров (cron, выражения) здесь не проверяется: некорректный
// trigger помечается scheduler'ом и не мешает остальным.
func Validate(f *domain.FlowDescriptor) error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w %s/%s: %v", ErrInvalidFlow, f.Namespace, f.ID, err)
	}
	if f.Tenant == "" {
		return fmt.Errorf("%w %s/%s: tenant is empty", ErrInvalidFlow, f.Namespace, f.ID)
	}

	triggers := make(map[string]*domain.TriggerDef, len(f.Triggers))
	for i := range f.Triggers {
		t := &f.Triggers[i]
		if _, dup := triggers[t.ID]; dup {
			return fmt.Errorf("%w %s: duplicate trigger %q", ErrInvalidFlow, f.Key(), t.ID)
		}
		triggers[t.ID] = t
	}

	composites := make(map[string]bool, len(f.Composites))
	for _, c := range f.Composites {
		if composites[c.ID] {
			return fmt.Errorf("%w %s: duplicate composite %q", ErrInvalidFlow, f.Key(), c.ID)
		}
		composites[c.ID] = true
		for _, m := range c.Members {
			t, ok := triggers[m]
			if !ok {
				return fmt.Errorf("%w %s: composite %q references unknown trigger %q", ErrInvalidFlow, f.Key(), c.ID, m)
			}
			if t.Composite != c.ID {
				return fmt.Errorf("%w %s: trigger %q is a member of %q but declares composite %q", ErrInvalidFlow, f.Key(), m, c.ID, t.Composite)
			}
		}
	}

	for _, t := range f.Triggers {
		if t.Composite != "" && !composites[t.Composite] {
			return fmt.Errorf("%w %s: trigger %q references unknown composite %q", ErrInvalidFlow, f.Key(), t.ID, t.Composite)
		}
	}
	return nil
}

// matchesTenant — фильтр ListActiveFlows.
func matchesTenant(f *domain.FlowDescriptor, tenant string) bool {
	return tenant == "" || f.Tenant == tenant
}
