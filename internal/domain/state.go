package domain

import "time"

// HistoryEntry — одна запись истории переходов.
type HistoryEntry struct {
	// State — состояние, в которое перешёл execution.
	State StateType `json:"state"`

	// Date — момент перехода.
	Date time.Time `json:"date"`
}

// State — текущее состояние execution и история всех переходов.
//
// Инварианты:
//   - история начинается с CREATED и содержит ровно одну запись на переход;
//   - timestamps в истории не убывают;
//   - после терминальной записи история не растёт.
//
// State — value type: Apply возвращает новое значение, исходное не меняется.
type State struct {
	Current StateType      `json:"current"`
	History []HistoryEntry `json:"history"`
}

// NewState создаёт состояние CREATED с первой записью истории.
func NewState(at time.Time) State {
	return State{
		Current: StateCreated,
		History: []HistoryEntry{{State: StateCreated, Date: at}},
	}
}

// IsTerminal возвращает true, если текущее состояние финальное.
func (s State) IsTerminal() bool {
	return s.Current.IsTerminal()
}

// Last возвращает последнюю запись истории.
func (s State) Last() (HistoryEntry, bool) {
	if len(s.History) == 0 {
		return HistoryEntry{}, false
	}
	return s.History[len(s.History)-1], true
}

// StartDate возвращает время первой записи истории.
func (s State) StartDate() time.Time {
	if len(s.History) == 0 {
		return time.Time{}
	}
	return s.History[0].Date
}

// EndDate возвращает время терминальной записи, если она есть.
func (s State) EndDate() (time.Time, bool) {
	if !s.IsTerminal() {
		return time.Time{}, false
	}
	last, ok := s.Last()
	if !ok {
		return time.Time{}, false
	}
	return last.Date, true
}

// Duration возвращает продолжительность execution.
//
// Определена только для терминального состояния: время от первой записи
// истории до терминальной. Для незавершённого execution возвращает false,
// а не частичное значение.
func (s State) Duration() (time.Duration, bool) {
	end, ok := s.EndDate()
	if !ok {
		return 0, false
	}
	return end.Sub(s.StartDate()), true
}

// Apply применяет переход в target на момент at.
//
// Отклоняет переход (возвращает *InvalidTransitionError), если:
//   - состояние уже терминальное;
//   - at раньше последней записи истории;
//   - target неизвестен или переход не разрешён.
func (s State) Apply(target StateType, at time.Time) (State, error) {
	if err := s.check(target, at); err != nil {
		return s, err
	}

	history := make([]HistoryEntry, len(s.History), len(s.History)+1)
	copy(history, s.History)
	history = append(history, HistoryEntry{State: target, Date: at})

	return State{Current: target, History: history}, nil
}

// check проверяет переход без изменения состояния.
func (s State) check(target StateType, at time.Time) error {
	reject := func(reason TransitionReason) error {
		return &InvalidTransitionError{From: s.Current, To: target, At: at, Reason: reason}
	}

	if s.IsTerminal() {
		return reject(ReasonTerminal)
	}
	if !target.IsValid() {
		return reject(ReasonUnknownState)
	}
	if last, ok := s.Last(); ok && at.Before(last.Date) {
		return reject(ReasonClock)
	}
	if !s.Current.CanTransitionTo(target) {
		return reject(ReasonNotAllowed)
	}
	return nil
}

// Clone возвращает глубокую копию состояния.
func (s State) Clone() State {
	history := make([]HistoryEntry, len(s.History))
	copy(history, s.History)
	return State{Current: s.Current, History: history}
}
