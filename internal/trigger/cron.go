package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Orbit/internal/domain"
)

// cronParser — парсер cron-выражений (5 полей и дескрипторы вида @daily).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// schedule — расписание trigger в его часовом поясе.
type schedule struct {
	spec cron.Schedule
	loc  *time.Location
}

// parseSchedule разбирает cron или интервал trigger.
// Ошибки здесь — ошибки конфигурации.
func parseSchedule(def *domain.TriggerDef) (*schedule, error) {
	loc := time.UTC
	if def.Timezone != "" {
		l, err := time.LoadLocation(def.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidTrigger, def.Timezone, err)
		}
		loc = l
	}

	switch {
	case def.Cron != "":
		spec, err := cronParser.Parse(def.Cron)
		if err != nil {
			return nil, fmt.Errorf("%w: cron expression %q: %v", ErrInvalidTrigger, def.Cron, err)
		}
		return &schedule{spec: spec, loc: loc}, nil

	case def.Interval.Std() > 0:
		if def.Interval.Std() < time.Second {
			return nil, fmt.Errorf("%w: interval %s is shorter than 1s", ErrInvalidTrigger, def.Interval.Std())
		}
		return &schedule{spec: cron.Every(def.Interval.Std()), loc: loc}, nil
	}

	// ни cron, ни interval — trigger некорректный
	return nil, fmt.Errorf("%w: schedule trigger has neither cron nor interval", ErrInvalidTrigger)
}

// next возвращает первую дату строго после from (в UTC).
func (s *schedule) next(from time.Time) time.Time {
	return s.spec.Next(from.In(s.loc)).UTC()
}

// maxCatchUp ограничивает поиск последней пропущенной даты.
const maxCatchUp = 10000

// latest возвращает последнюю дату расписания, не позже now, начиная с date.
// date сама должна быть не позже now.
func (s *schedule) latest(date, now time.Time) time.Time {
	for i := 0; i < maxCatchUp; i++ {
		n := s.next(date)
		if n.After(now) {
			return date
		}
		date = n
	}
	return date
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}
