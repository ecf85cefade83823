package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Orbit/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const flowsYAML = `
namespace: company.team
id: daily-report
inputs:
  format: pdf
concurrency:
  limit: 1
  behavior: QUEUE
triggers:
  - id: nine
    type: schedule
    cron: "0 9 * * *"
    timezone: Europe/Berlin
    conditions:
      - type: dayOfWeek
        days_of_week: [MONDAY, FRIDAY]
  - id: upstream-done
    type: flow
    composite: both
    flow:
      namespace: etl
      flow_id: extract
  - id: bucket
    type: polling
    composite: both
    poll:
      condition: "now.Hour() >= 6"
      interval: 5m
composites:
  - id: both
    members: [upstream-done, bucket]
    span: 2h
---
tenant: acme
namespace: ops
id: cleanup
disabled: true
triggers:
  - id: hourly
    type: schedule
    interval: 1h
---
namespace: broken
triggers:
  - id: x
    type: schedule
`

func TestDecode(t *testing.T) {
	flows, err := Decode(strings.NewReader(flowsYAML), "main", discardLogger())
	require.NoError(t, err)
	require.Len(t, flows, 2, "документ без id пропускается")

	f := flows[0]
	assert.Equal(t, domain.FlowKey{Tenant: "main", Namespace: "company.team", FlowID: "daily-report"}, f.Key())
	assert.Equal(t, 1, f.Concurrency.MaxConcurrent())
	assert.Equal(t, domain.OverflowQueue, f.Concurrency.Policy())
	require.Len(t, f.Triggers, 3)
	assert.Equal(t, []string{"MONDAY", "FRIDAY"}, f.Triggers[0].Conditions[0].DaysOfWeek)
	assert.Equal(t, 5*time.Minute, f.Triggers[2].Poll.Interval.Std())
	assert.Equal(t, 2*time.Hour, f.Composite("both").Span.Std())

	assert.Equal(t, "acme", flows[1].Tenant)
	assert.True(t, flows[1].Disabled)
}

func TestValidate(t *testing.T) {
	base := func() *domain.FlowDescriptor {
		return &domain.FlowDescriptor{
			Tenant: "main", Namespace: "ns", ID: "f",
			Triggers: []domain.TriggerDef{
				{ID: "a", Type: domain.TriggerSchedule, Cron: "@daily", Composite: "c"},
				{ID: "b", Type: domain.TriggerPolling, Poll: &domain.PollDef{Condition: "true"}, Composite: "c"},
			},
			Composites: []domain.CompositeDef{{ID: "c", Members: []string{"a", "b"}}},
		}
	}
	require.NoError(t, Validate(base()))

	tests := map[string]func(f *domain.FlowDescriptor){
		"no tenant":         func(f *domain.FlowDescriptor) { f.Tenant = "" },
		"no namespace":      func(f *domain.FlowDescriptor) { f.Namespace = "" },
		"duplicate trigger": func(f *domain.FlowDescriptor) { f.Triggers[1].ID = "a" },
		"unknown member":    func(f *domain.FlowDescriptor) { f.Composites[0].Members = []string{"a", "z"} },
		"member mismatch":   func(f *domain.FlowDescriptor) { f.Triggers[1].Composite = "" },
		"unknown composite": func(f *domain.FlowDescriptor) { f.Triggers = append(f.Triggers, domain.TriggerDef{ID: "d", Type: domain.TriggerSchedule, Composite: "zz"}) },
		"bad trigger type":  func(f *domain.FlowDescriptor) { f.Triggers[0].Type = "webhook" },
		"bad policy":        func(f *domain.FlowDescriptor) { f.Concurrency = &domain.ConcurrencyDef{Limit: 1, Behavior: "DROP"} },
		"negative limit":    func(f *domain.FlowDescriptor) { f.Concurrency = &domain.ConcurrencyDef{Limit: -1} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			f := base()
			mutate(f)
			assert.ErrorIs(t, Validate(f), ErrInvalidFlow)
		})
	}
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	c, err := NewStatic("main",
		&domain.FlowDescriptor{Namespace: "ns", ID: "b"},
		&domain.FlowDescriptor{Namespace: "ns", ID: "a"},
		&domain.FlowDescriptor{Tenant: "acme", Namespace: "ns", ID: "c"},
		&domain.FlowDescriptor{Namespace: "ns", ID: "off", Disabled: true},
	)
	require.NoError(t, err)

	all, err := c.ListActiveFlows(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "acme", all[0].Tenant)

	mainFlows, err := c.ListActiveFlows(ctx, "main")
	require.NoError(t, err)
	require.Len(t, mainFlows, 2)
	assert.Equal(t, "a", mainFlows[0].ID)

	off, err := c.Get(ctx, domain.FlowKey{Tenant: "main", Namespace: "ns", FlowID: "off"})
	require.NoError(t, err)
	assert.True(t, off.Disabled)

	c.Delete(off.Key())
	_, err = c.Get(ctx, off.Key())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, c.Put(&domain.FlowDescriptor{Namespace: "ns"}), ErrInvalidFlow)
}

func TestDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flows.yaml"), []byte(flowsYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("namespace: [unclosed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# flows"), 0o644))

	c, err := Open(ctx, "file://"+dir, "main", discardLogger())
	require.NoError(t, err)

	flows, err := c.ListActiveFlows(ctx, "")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "daily-report", flows[0].ID)

	got, err := c.Get(ctx, domain.FlowKey{Tenant: "acme", Namespace: "ops", FlowID: "cleanup"})
	require.NoError(t, err)
	assert.True(t, got.Disabled)

	// новый файл виден без перезапуска
	extra := "namespace: ns\nid: extra\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte(extra), 0o644))
	flows, err = c.ListActiveFlows(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, flows, 2)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	c, err := Open(ctx, "memory://", "main", discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &Static{}, c)

	_, err = Open(ctx, "s3://bucket/flows", "main", discardLogger())
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = Open(ctx, "file:///definitely/missing/dir", "main", discardLogger())
	assert.Error(t, err)
}
