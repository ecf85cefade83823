package domain

import (
	"sort"
	"time"
)

// OverflowPolicy — поведение при достижении лимита concurrency.
type OverflowPolicy string

const (
	// OverflowQueue — execution создаётся в QUEUED и ждёт слот.
	OverflowQueue OverflowPolicy = "QUEUE"

	// OverflowCancel — execution создаётся и сразу переводится в CANCELLED.
	OverflowCancel OverflowPolicy = "CANCEL"

	// OverflowFail — execution создаётся и сразу переводится в FAILED.
	OverflowFail OverflowPolicy = "FAIL"
)

// ConcurrencyLimit — персистентный счётчик executions одного flow.
//
// Инварианты:
//   - CurrentCount == len(Running) и не превышает MaxConcurrent;
//   - execution освобождает слот не более одного раза;
//   - Queued упорядочен по времени создания (FIFO).
type ConcurrencyLimit struct {
	FlowKey        string         `json:"flow_key"`
	MaxConcurrent  int            `json:"max_concurrent"`
	CurrentCount   int            `json:"current_count"`
	OverflowPolicy OverflowPolicy `json:"overflow_policy"`

	// Running — executions, занимающие слот (ID → время захвата).
	Running map[string]time.Time `json:"running"`

	// Queued — executions в QUEUED, ожидающие слот.
	Queued []QueuedExecution `json:"queued,omitempty"`
}

// QueuedExecution — execution в очереди на слот.
type QueuedExecution struct {
	ExecutionID string    `json:"execution_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewConcurrencyLimit создаёт пустой счётчик.
func NewConcurrencyLimit(flowKey string, max int, policy OverflowPolicy) *ConcurrencyLimit {
	return &ConcurrencyLimit{
		FlowKey:        flowKey,
		MaxConcurrent:  max,
		OverflowPolicy: policy,
		Running:        make(map[string]time.Time),
	}
}

// HasCapacity проверяет, есть ли свободный слот.
func (l *ConcurrencyLimit) HasCapacity() bool {
	return l.MaxConcurrent <= 0 || len(l.Running) < l.MaxConcurrent
}

// Holds проверяет, занимает ли execution слот.
func (l *ConcurrencyLimit) Holds(executionID string) bool {
	_, ok := l.Running[executionID]
	return ok
}

// IsQueued проверяет, стоит ли execution в очереди.
func (l *ConcurrencyLimit) IsQueued(executionID string) bool {
	for _, q := range l.Queued {
		if q.ExecutionID == executionID {
			return true
		}
	}
	return false
}

// Occupy занимает слот.
func (l *ConcurrencyLimit) Occupy(executionID string, at time.Time) {
	if l.Running == nil {
		l.Running = make(map[string]time.Time)
	}
	l.Running[executionID] = at
	l.CurrentCount = len(l.Running)
}

// Vacate освобождает слот. Возвращает false, если слот не был занят.
func (l *ConcurrencyLimit) Vacate(executionID string) bool {
	if !l.Holds(executionID) {
		return false
	}
	delete(l.Running, executionID)
	l.CurrentCount = len(l.Running)
	return true
}

// Enqueue ставит execution в очередь, сохраняя порядок по CreatedAt.
func (l *ConcurrencyLimit) Enqueue(executionID string, createdAt time.Time) {
	if l.IsQueued(executionID) {
		return
	}
	l.Queued = append(l.Queued, QueuedExecution{ExecutionID: executionID, CreatedAt: createdAt})
	sort.SliceStable(l.Queued, func(i, j int) bool {
		return l.Queued[i].CreatedAt.Before(l.Queued[j].CreatedAt)
	})
}

// Dequeue удаляет execution из очереди. Возвращает false, если его там не было.
func (l *ConcurrencyLimit) Dequeue(executionID string) bool {
	for i, q := range l.Queued {
		if q.ExecutionID == executionID {
			l.Queued = append(l.Queued[:i], l.Queued[i+1:]...)
			return true
		}
	}
	return false
}

// PopOldest извлекает самый старый execution из очереди.
func (l *ConcurrencyLimit) PopOldest() (QueuedExecution, bool) {
	if len(l.Queued) == 0 {
		return QueuedExecution{}, false
	}
	head := l.Queued[0]
	l.Queued = l.Queued[1:]
	return head, true
}
