package domain

import "time"

// MultipleConditionWindow — окно composite-условия.
//
// Окно открывается первым выполненным member-условием и живёт до Deadline.
// Как только все Required выполнены внутри [Start, Deadline], окно
// срабатывает и удаляется. Если Deadline прошёл при частичном выполнении,
// окно отбрасывается без срабатывания.
type MultipleConditionWindow struct {
	// CompositeID — полный ключ composite ("tenant/ns/flow/composite").
	CompositeID string `json:"composite_id"`

	Start    time.Time `json:"start"`
	Deadline time.Time `json:"deadline"`

	// Required — member-условия, которые должны выполниться.
	Required []string `json:"required"`

	// Members — выполненные условия (member ID → timestamp).
	Members map[string]time.Time `json:"members"`
}

// NewWindow открывает окно с началом в start.
func NewWindow(compositeID string, required []string, start time.Time, span time.Duration) *MultipleConditionWindow {
	req := make([]string, len(required))
	copy(req, required)
	return &MultipleConditionWindow{
		CompositeID: compositeID,
		Start:       start,
		Deadline:    start.Add(span),
		Required:    req,
		Members:     make(map[string]time.Time),
	}
}

// Span возвращает ширину окна.
func (w *MultipleConditionWindow) Span() time.Duration {
	return w.Deadline.Sub(w.Start)
}

// Contains проверяет, что ts попадает в [Start, Deadline].
func (w *MultipleConditionWindow) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.Deadline)
}

// IsExpired проверяет, что дедлайн окна прошёл.
func (w *MultipleConditionWindow) IsExpired(now time.Time) bool {
	return now.After(w.Deadline)
}

// IsRequired проверяет, входит ли member в набор условий.
func (w *MultipleConditionWindow) IsRequired(memberID string) bool {
	for _, r := range w.Required {
		if r == memberID {
			return true
		}
	}
	return false
}

// IsSatisfied возвращает true, если выполнены все условия.
func (w *MultipleConditionWindow) IsSatisfied() bool {
	for _, r := range w.Required {
		if _, ok := w.Members[r]; !ok {
			return false
		}
	}
	return len(w.Required) > 0
}

// Missing возвращает ещё не выполненные условия.
func (w *MultipleConditionWindow) Missing() []string {
	var out []string
	for _, r := range w.Required {
		if _, ok := w.Members[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// FireEvent — результат срабатывания composite-условия.
type FireEvent struct {
	CompositeID string               `json:"composite_id"`
	Start       time.Time            `json:"start"`
	Deadline    time.Time            `json:"deadline"`
	Members     map[string]time.Time `json:"members"`
	FiredAt     time.Time            `json:"fired_at"`
}
