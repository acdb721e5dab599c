package scheduler

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// the items/s counter ticks in a goroutine of its own
		goleak.IgnoreTopFunction("github.com/paulbellamy/ratecounter.(*RateCounter).run.func1"),
	)
}
