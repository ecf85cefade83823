package trigger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/shaiso/Orbit/internal/domain"
)

// dateEnv — окружение expression-условия: только дата кандидата.
// Поля календаря — int, поэтому month == 12 сравнивается без приведений.
type dateEnv struct {
	Date    time.Time `expr:"date"`
	Year    int       `expr:"year"`
	Month   int       `expr:"month"`
	Day     int       `expr:"day"`
	Weekday int       `expr:"weekday"` // 0 — воскресенье
	Hour    int       `expr:"hour"`
	Minute  int       `expr:"minute"`
}

func newDateEnv(date time.Time) dateEnv {
	return dateEnv{
		Date:    date,
		Year:    date.Year(),
		Month:   int(date.Month()),
		Day:     date.Day(),
		Weekday: int(date.Weekday()),
		Hour:    date.Hour(),
		Minute:  date.Minute(),
	}
}

// programs — кэш скомпилированных выражений ("kind|source" → программа).
var programs sync.Map

func compileCached(kind, source string, opts ...expr.Option) (*vm.Program, error) {
	cacheKey := kind + "|" + source
	if p, ok := programs.Load(cacheKey); ok {
		return p.(*vm.Program), nil
	}
	program, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s expression %q: %v", ErrInvalidTrigger, kind, source, err)
	}
	programs.Store(cacheKey, program)
	return program, nil
}

func compileDateExpression(source string) (*vm.Program, error) {
	return compileCached("date", source, expr.Env(dateEnv{}), expr.AsBool())
}

var weekdays = map[string]time.Weekday{
	"SUNDAY":    time.Sunday,
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
}

func validateCondition(c *domain.ScheduleCondition) error {
	switch c.Type {
	case domain.ConditionDayOfWeek:
		if len(c.DaysOfWeek) == 0 {
			return fmt.Errorf("%w: dayOfWeek without days", ErrInvalidTrigger)
		}
		for _, d := range c.DaysOfWeek {
			if _, ok := weekdays[strings.ToUpper(d)]; !ok {
				return fmt.Errorf("%w: unknown day of week %q", ErrInvalidTrigger, d)
			}
		}
	case domain.ConditionDayOfMonth:
		if len(c.DaysOfMonth) == 0 {
			return fmt.Errorf("%w: dayOfMonth without days", ErrInvalidTrigger)
		}
		for _, d := range c.DaysOfMonth {
			if d != -1 && (d < 1 || d > 31) {
				return fmt.Errorf("%w: day of month %d out of range", ErrInvalidTrigger, d)
			}
		}
	case domain.ConditionWeekend:
	case domain.ConditionDateBetween:
		if c.After == nil && c.Before == nil {
			return fmt.Errorf("%w: dateBetween without bounds", ErrInvalidTrigger)
		}
		if c.After != nil && c.Before != nil && c.Before.Before(*c.After) {
			return fmt.Errorf("%w: dateBetween bounds are reversed", ErrInvalidTrigger)
		}
	case domain.ConditionExpression:
		if _, err := compileDateExpression(c.Expression); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown schedule condition %q", ErrInvalidTrigger, c.Type)
	}
	return nil
}

// conditionHolds проверяет условие на дату. Результат зависит только от date.
func conditionHolds(c *domain.ScheduleCondition, date time.Time) (bool, error) {
	if err := validateCondition(c); err != nil {
		return false, err
	}

	switch c.Type {
	case domain.ConditionDayOfWeek:
		for _, d := range c.DaysOfWeek {
			if weekdays[strings.ToUpper(d)] == date.Weekday() {
				return true, nil
			}
		}
		return false, nil

	case domain.ConditionDayOfMonth:
		last := time.Date(date.Year(), date.Month()+1, 0, 0, 0, 0, 0, date.Location()).Day()
		for _, d := range c.DaysOfMonth {
			if d == date.Day() || (d == -1 && date.Day() == last) {
				return true, nil
			}
		}
		return false, nil

	case domain.ConditionWeekend:
		wd := date.Weekday()
		isWeekend := wd == time.Saturday || wd == time.Sunday
		return isWeekend == c.Weekend, nil

	case domain.ConditionDateBetween:
		if c.After != nil && date.Before(*c.After) {
			return false, nil
		}
		if c.Before != nil && date.After(*c.Before) {
			return false, nil
		}
		return true, nil

	case domain.ConditionExpression:
		program, err := compileDateExpression(c.Expression)
		if err != nil {
			return false, err
		}
		out, err := expr.Run(program, newDateEnv(date))
		if err != nil {
			return false, fmt.Errorf("run expression %q: %w", c.Expression, err)
		}
		ok, _ := out.(bool)
		return ok, nil
	}
	return false, nil
}

// conditionsHold — все условия trigger истинны на date.
func conditionsHold(conds []domain.ScheduleCondition, date time.Time) (bool, error) {
	for i := range conds {
		ok, err := conditionHolds(&conds[i], date)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
