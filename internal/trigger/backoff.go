package trigger

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FailureBackoff возвращает задержку перед следующим вычислением trigger
// после failures ошибок подряд: base, 2*base, 4*base, ... не больше max.
func FailureBackoff(base, max time.Duration, failures int) time.Duration {
	if failures <= 0 || base <= 0 {
		return 0
	}
	if max < base {
		max = base
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.MaxInterval = max
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	d := base
	for i := 0; i < failures; i++ {
		d = exp.NextBackOff()
	}
	return d
}
