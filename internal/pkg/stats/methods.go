package stats

import (
	"strconv"
	"time"
)

//////////////////////////
//    ItemsProcessed    //
//////////////////////////

// ItemsProcessedIncr counts an item that reached a stored status.
func ItemsProcessedIncr(status string) {
	globalStats.ItemsProcessed.incr(1)
	globalStats.ItemsByStatus.incr(status, 1)
	if globalPromStats != nil {
		globalPromStats.itemsProcessed.WithLabelValues(globalPromStats.job, status).Inc()
	}
}

// ItemsProcessedGet returns the number of items processed during the last second.
func ItemsProcessedGet() uint64 { return globalStats.ItemsProcessed.get() }

// ItemsProcessedTotal returns the number of items processed since start.
func ItemsProcessedTotal() uint64 { return globalStats.ItemsProcessed.getTotal() }

// ItemsByStatusTotal returns the number of items stored with the given status.
func ItemsByStatusTotal(status string) uint64 { return globalStats.ItemsByStatus.getTotal(status) }

//////////////////////////
// ItemsCanceled/Skipped //
//////////////////////////

// ItemsCanceledIncr counts an item abandoned by a shutdown.
func ItemsCanceledIncr() {
	globalStats.ItemsCanceled.incr(1)
	if globalPromStats != nil {
		globalPromStats.itemsCanceled.WithLabelValues(globalPromStats.job).Inc()
	}
}

// ItemsCanceledGet returns the number of canceled items.
func ItemsCanceledGet() int64 { return globalStats.ItemsCanceled.get() }

// ItemsSkippedSet records how many items the source skipped as already populated.
func ItemsSkippedSet(value int64) { globalStats.ItemsSkipped.set(value) }

//////////////////////////
//     StorageErrors    //
//////////////////////////

// StorageErrorsIncr counts a failed sink or checkpoint write.
func StorageErrorsIncr() {
	globalStats.StorageErrors.incr(1)
	if globalPromStats != nil {
		globalPromStats.storageErrors.WithLabelValues(globalPromStats.job).Inc()
	}
}

// StorageErrorsGet returns the number of failed storage writes.
func StorageErrorsGet() int64 { return globalStats.StorageErrors.get() }

//////////////////////////
//         HTTP         //
//////////////////////////

// HTTPAttemptsIncr counts one HTTP exchange, whatever its result.
func HTTPAttemptsIncr() {
	globalStats.HTTPAttempts.incr(1)
}

// HTTPAttemptsGet returns the number of HTTP exchanges.
func HTTPAttemptsGet() int64 { return globalStats.HTTPAttempts.get() }

// HTTPStatusIncr counts a response with the given status code.
func HTTPStatusIncr(code int) {
	key := strconv.Itoa(code)
	globalStats.HTTPReturnCodes.incr(key, 1)
	if globalPromStats != nil {
		globalPromStats.httpResponses.WithLabelValues(globalPromStats.job, key).Inc()
	}
}

// HTTPStatusTotal returns the number of responses with the given status code.
func HTTPStatusTotal(code int) uint64 {
	return globalStats.HTTPReturnCodes.getTotal(strconv.Itoa(code))
}

// RetriesIncr counts a retried attempt.
func RetriesIncr() {
	globalStats.Retries.incr(1)
	if globalPromStats != nil {
		globalPromStats.retries.WithLabelValues(globalPromStats.job).Inc()
	}
}

// RetriesGet returns the number of retried attempts.
func RetriesGet() int64 { return globalStats.Retries.get() }

//////////////////////////
//   FetchersInFlight   //
//////////////////////////

// FetchersInFlightIncr increments the number of running fetches.
func FetchersInFlightIncr() {
	globalStats.FetchersInFlight.incr(1)
	if globalPromStats != nil {
		globalPromStats.inFlight.WithLabelValues(globalPromStats.job).Inc()
	}
}

// FetchersInFlightDecr decrements the number of running fetches.
func FetchersInFlightDecr() {
	globalStats.FetchersInFlight.decr(1)
	if globalPromStats != nil {
		globalPromStats.inFlight.WithLabelValues(globalPromStats.job).Dec()
	}
}

// FetchersInFlightGet returns the number of running fetches.
func FetchersInFlightGet() int64 { return globalStats.FetchersInFlight.get() }

// FetchTimeAdd records the duration of one item fetch.
func FetchTimeAdd(d time.Duration) {
	globalStats.MeanFetchTime.add(uint64(max(d, 0)))
	if globalPromStats != nil {
		globalPromStats.fetchTime.WithLabelValues(globalPromStats.job).Observe(d.Seconds())
	}
}

//////////////////////////
//      RateState       //
//////////////////////////

// RateStateSet publishes the state of the rate controller.
func RateStateSet(mode string, delay time.Duration, concurrency int) {
	globalStats.RateMode.Store(mode)
	globalStats.CurrentDelay.set(int64(delay))
	globalStats.Concurrency.set(int64(concurrency))
	if globalPromStats != nil {
		globalPromStats.currentDelay.WithLabelValues(globalPromStats.job).Set(delay.Seconds())
		globalPromStats.concurrency.WithLabelValues(globalPromStats.job).Set(float64(concurrency))
		for _, m := range rateModes {
			v := 0.0
			if m == mode {
				v = 1
			}
			globalPromStats.rateMode.WithLabelValues(globalPromStats.job, m).Set(v)
		}
	}
}

// RateModeGet returns the last published rate controller mode.
func RateModeGet() string {
	mode, _ := globalStats.RateMode.Load().(string)
	return mode
}

// CurrentDelayGet returns the last published inter-request delay.
func CurrentDelayGet() time.Duration { return time.Duration(globalStats.CurrentDelay.get()) }

// ConcurrencyGet returns the last published concurrency window.
func ConcurrencyGet() int64 { return globalStats.Concurrency.get() }

//////////////////////////
//        Paused        //
//////////////////////////

// PausedSet sets the Paused flag.
func PausedSet(paused bool) {
	globalStats.Paused.Store(paused)
}

// PausedGet returns the current value of the Paused flag.
func PausedGet() bool { return globalStats.Paused.Load() }
