package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/agux/roscrape/internal/metrics"
	"github.com/agux/roscrape/internal/network"
	"github.com/agux/roscrape/internal/pool"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ssgreg/repeat"
)

// ErrRetryBudget is returned when a task used all its attempts without getting a clean page.
var ErrRetryBudget = errors.New("retry budget exceeded")

var errChallenge = errors.New("challenge page")

// TaskError describes why a fetch task gave up.
type TaskError struct {
	Task     string
	Item     string
	URL      string
	Attempts int
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("item %s (%s) failed after %d attempt(s): %v", e.Item, e.URL, e.Attempts, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// FetchURL runs one fetch task: it holds a concurrency slot while it asks the pool for a proxy,
// issues the request and reacts to the outcome until it gets a clean page or gives up.
// Failures are returned as *TaskError.
func (s *Scraper) FetchURL(ctx context.Context, item, link string) (res *network.Response, e error) {
	task := uuid.NewString()
	lg := log.WithFields(logrus.Fields{"task": task, "item": item})
	start := time.Now()
	attempts := 0

	defer func() {
		metrics.TaskDuration.Observe(time.Since(start).Seconds())
		metrics.Tasks.WithLabelValues(taskResult(e)).Inc()
		if e != nil {
			e = &TaskError{Task: task, Item: item, URL: link, Attempts: attempts, Err: e}
		}
	}()

	if e = s.sem.Acquire(ctx, 1); e != nil {
		return nil, errors.WithStack(e)
	}
	defer s.sem.Release(1)

	if s.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TaskTimeout)
		defer cancel()
	}

	var fatal error
	op := func(c int) error {
		if err := ctx.Err(); err != nil {
			fatal = err
			return repeat.HintStop(err)
		}
		px, err := s.pool.Next()
		if err != nil {
			fatal = err
			return repeat.HintStop(err)
		}
		if attempts >= s.opts.MaxAttempts {
			fatal = ErrRetryBudget
			return repeat.HintStop(fatal)
		}
		if s.opts.Limiter != nil {
			if err = s.opts.Limiter.Wait(ctx); err != nil {
				fatal = err
				return repeat.HintStop(err)
			}
		}
		attempts++
		plg := lg.WithFields(logrus.Fields{"proxy": px.String(), "attempt": attempts})
		r, err := s.doer.Get(ctx, link, px)
		if err != nil && ctx.Err() != nil {
			// the task ran out of time, the proxy is not to blame
			fatal = ctx.Err()
			return repeat.HintStop(fatal)
		}
		outcome := Classify(r, err, s.opts.Detector, s.soft)
		metrics.FetchAttempts.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case OutcomeSuccess:
			res = r
			plg.Debugf("fetched %s", link)
			return nil
		case OutcomeProxyFailure:
			if err == nil {
				err = errors.Errorf("status %d", r.StatusCode)
			}
			removed := s.pool.Fail(px)
			plg.Debugf("proxy failure (removed: %v, %d left): %v", removed, s.pool.Size(), err)
			return repeat.HintTemporary(err)
		case OutcomeChallenge:
			s.pool.Rotate(px)
			if !r.OK() {
				plg.Debugf("soft status %d, switching proxy", r.StatusCode)
			} else {
				plg.Debug("challenge page detected, switching proxy")
			}
			return repeat.HintTemporary(errChallenge)
		default:
			if err == nil {
				err = errors.New("empty response")
			}
			fatal = err
			return repeat.HintStop(err)
		}
	}

	ops := []repeat.Operation{
		repeat.FnWithCounter(op),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(s.opts.MaxAttempts + 1),
	}
	if s.opts.RetryDelay > 0 {
		ops = append(ops, repeat.WithDelay(
			repeat.FullJitterBackoff(s.opts.RetryDelay).WithMaxDelay(s.opts.MaxDelay).Set(),
		))
	}
	_ = repeat.WithContext(ctx).Repeat(ops...)

	switch {
	case res != nil:
		lg.Infof("fetched %s after %d attempt(s)", link, attempts)
		return res, nil
	case fatal != nil:
		e = fatal
	case ctx.Err() != nil:
		e = ctx.Err()
	default:
		// an exhausted pool is reported as such even when the attempt limit stopped the loop
		if _, err := s.pool.Next(); err != nil {
			e = err
		} else {
			e = ErrRetryBudget
		}
	}
	return nil, e
}

func taskResult(e error) string {
	switch {
	case e == nil:
		return "success"
	case errors.Is(e, ErrRetryBudget):
		return "retry_budget"
	case errors.Is(e, context.DeadlineExceeded), errors.Is(e, context.Canceled):
		return "timeout"
	case errors.Is(e, pool.ErrExhausted):
		return "exhausted"
	default:
		return "error"
	}
}
