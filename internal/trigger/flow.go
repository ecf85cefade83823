package trigger

import (
	"time"

	"github.com/shaiso/Orbit/internal/domain"
)

// FlowMatch — flow trigger, сработавший на завершение execution.
type FlowMatch struct {
	Flow    *domain.FlowDescriptor
	Trigger *domain.TriggerDef
}

// MatchFlowTriggers находит flow-триггеры, которые реагируют на завершение
// exec. Учитываются только flows того же tenant.
func MatchFlowTriggers(flows []*domain.FlowDescriptor, exec *domain.Execution) []FlowMatch {
	if exec == nil || !exec.IsFinished() {
		return nil
	}

	var matches []FlowMatch
	for _, f := range flows {
		if f.Disabled || f.Tenant != exec.Tenant {
			continue
		}
		for i := range f.Triggers {
			def := &f.Triggers[i]
			if def.Disabled || def.Type != domain.TriggerFlow {
				continue
			}
			if def.Flow.Matches(exec) {
				matches = append(matches, FlowMatch{Flow: f, Trigger: def})
			}
		}
	}
	return matches
}

// FlowCandidate создаёт кандидата для flow trigger. ID зависит от upstream
// execution, поэтому повторное событие о завершении не создаёт дубль.
func FlowCandidate(m FlowMatch, upstream *domain.Execution, now time.Time, createdBy string) *domain.Execution {
	key := domain.TriggerKey{Flow: m.Flow.Key(), TriggerID: m.Trigger.ID}
	exec := NewCandidate(m.Flow, m.Trigger, now, domain.ExecutionTrigger{
		Type:      domain.TriggerFlow,
		TriggerID: m.Trigger.ID,
		Variables: map[string]any{
			"execution_id": upstream.ID,
			"namespace":    upstream.Namespace,
			"flow_id":      upstream.FlowID,
			"state":        string(upstream.State.Current),
		},
	})
	exec.ID = ExecutionID(key, upstream.ID)
	exec.Metadata.CreatedBy = createdBy
	return exec
}
