package domain

import (
	"fmt"
	"strings"
	"time"
)

// FlowKey — полный идентификатор flow: tenant, namespace и ID.
type FlowKey struct {
	Tenant    string `json:"tenant"`
	Namespace string `json:"namespace"`
	FlowID    string `json:"flow_id"`
}

// String возвращает ключ в виде "tenant/namespace/flow".
func (k FlowKey) String() string {
	return k.Tenant + "/" + k.Namespace + "/" + k.FlowID
}

// ParseFlowKey разбирает строку "tenant/namespace/flow".
func ParseFlowKey(s string) (FlowKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return FlowKey{}, fmt.Errorf("%w: flow key %q", ErrInvalidDefinition, s)
	}
	return FlowKey{Tenant: parts[0], Namespace: parts[1], FlowID: parts[2]}, nil
}

// FlowDescriptor — описание flow из каталога.
//
// Для планировщика важны только триггеры, composite-условия и
// настройки concurrency. Граф задач flow здесь не описывается.
type FlowDescriptor struct {
	// Tenant — tenant flow. Пустое значение заменяется default tenant'ом
	// на границе (каталог / конфигурация).
	Tenant string `json:"tenant" yaml:"tenant"`

	// Namespace — пространство имён flow (например, "company.team").
	Namespace string `json:"namespace" yaml:"namespace" validate:"required"`

	// ID — идентификатор flow внутри namespace.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Revision — ревизия определения flow.
	Revision int `json:"revision,omitempty" yaml:"revision,omitempty"`

	// Disabled — отключённые flows не планируются.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// Inputs — входные параметры по умолчанию для новых executions.
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Triggers — определения триггеров.
	Triggers []TriggerDef `json:"triggers,omitempty" yaml:"triggers,omitempty" validate:"dive"`

	// Composites — composite-условия, объединяющие несколько триггеров.
	Composites []CompositeDef `json:"composites,omitempty" yaml:"composites,omitempty" validate:"dive"`

	// Concurrency — лимит одновременно выполняющихся executions.
	Concurrency *ConcurrencyDef `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// Key возвращает FlowKey.
func (f *FlowDescriptor) Key() FlowKey {
	return FlowKey{Tenant: f.Tenant, Namespace: f.Namespace, FlowID: f.ID}
}

// Trigger возвращает определение trigger по ID.
func (f *FlowDescriptor) Trigger(id string) *TriggerDef {
	for i := range f.Triggers {
		if f.Triggers[i].ID == id {
			return &f.Triggers[i]
		}
	}
	return nil
}

// Composite возвращает composite-условие по ID.
func (f *FlowDescriptor) Composite(id string) *CompositeDef {
	for i := range f.Composites {
		if f.Composites[i].ID == id {
			return &f.Composites[i]
		}
	}
	return nil
}

// ConcurrencyDef — настройки concurrency для flow.
type ConcurrencyDef struct {
	// Limit — максимум одновременно выполняющихся executions. 0 — без лимита.
	Limit int `json:"limit" yaml:"limit" validate:"gte=0"`

	// Behavior — что делать при превышении лимита (по умолчанию QUEUE).
	Behavior OverflowPolicy `json:"behavior,omitempty" yaml:"behavior,omitempty" validate:"omitempty,oneof=QUEUE CANCEL FAIL"`
}

// Policy возвращает политику с учётом значения по умолчанию.
func (c *ConcurrencyDef) Policy() OverflowPolicy {
	if c == nil || c.Behavior == "" {
		return OverflowQueue
	}
	return c.Behavior
}

// MaxConcurrent возвращает лимит (0 — без лимита).
func (c *ConcurrencyDef) MaxConcurrent() int {
	if c == nil {
		return 0
	}
	return c.Limit
}

// CompositeDef — условие, которое срабатывает только когда все
// member-триггеры выполнились в пределах одного окна.
type CompositeDef struct {
	// ID — идентификатор composite внутри flow.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Members — ID триггеров, которые должны выполниться.
	Members []string `json:"members" yaml:"members" validate:"min=1,dive,required"`

	// Span — ширина окна. 0 — значение по умолчанию из конфигурации.
	Span Duration `json:"span,omitempty" yaml:"span,omitempty"`

	// Inputs — входные параметры execution, созданного composite.
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Duration — time.Duration с текстовым представлением ("10m", "1h30m")
// для JSON и YAML.
type Duration time.Duration

// Std возвращает time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText реализует encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}
