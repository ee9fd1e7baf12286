package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummaryRecorder_ConcurrentUpdates(t *testing.T) {
	start := time.Now()
	rec := NewSummaryRecorder(100, start)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%10 == 0 {
				rec.RuleFailed(Rule{ID: "r"}, TimeoutError(errors.New("slow")), time.Millisecond)
				return
			}
			rec.Succeeded(RuleOutcome{RuleID: "r", AlertsInserted: 2, AlertsSuppressed: 1})
		}(i)
	}
	wg.Wait()

	s := rec.Finish(start.Add(time.Second))
	assert.Equal(t, 100, s.Requested)
	assert.Equal(t, 100, s.Executed)
	assert.Equal(t, 90, s.Succeeded)
	assert.Equal(t, 10, s.Failed)
	assert.Equal(t, 180, s.AlertsGenerated)
	assert.Equal(t, 90, s.AlertsSuppressed)
	assert.Len(t, s.Failures, 10)
	assert.Equal(t, ErrorKindTimeout, s.Failures[0].Kind)
	assert.Equal(t, time.Second, s.Duration)
}

func TestSummaryRecorder_UnresolvedIsNotExecuted(t *testing.T) {
	rec := NewSummaryRecorder(2, time.Now())
	rec.Unresolved("ghost", "rule not found")
	rec.Succeeded(RuleOutcome{RuleID: "real"})

	s := rec.Finish(time.Now())
	assert.Equal(t, 1, s.Executed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, ErrorKindNotFound, s.Failures[0].Kind)
}

func TestSummaryRecorder_FinishSortsAndCopies(t *testing.T) {
	rec := NewSummaryRecorder(2, time.Now())
	rec.RuleFailed(Rule{ID: "b"}, errors.New("x"), 0)
	rec.RuleFailed(Rule{ID: "a"}, errors.New("y"), 0)

	s := rec.Finish(time.Now())
	assert.Equal(t, "a", s.Failures[0].RuleID)

	s.Failures[0].Reason = "mutated"
	again := rec.Finish(time.Now())
	assert.NotEqual(t, "mutated", again.Failures[0].Reason)
}
