package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/pkg/logctx"
	"github.com/fatflowers/subledger/pkg/metrics"
)

const dequeueWait = 5 * time.Second

type Source interface {
	Dequeue(ctx context.Context, wait time.Duration) (*Job, error)
}

type UserLookup interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

// Worker drains the queue with a fixed number of goroutines.
type Worker struct {
	source  Source
	sender  Sender
	users   UserLookup
	workers int
	log     *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(source Source, sender Sender, users UserLookup, workers int, log *zap.SugaredLogger) *Worker {
	if workers <= 0 {
		workers = 1
	}
	return &Worker{source: source, sender: sender, users: users, workers: workers, log: log}
}

func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}
	w.log.Infow("notifier workers started", "workers", w.workers)
}

// Stop cancels the loops and waits for in-flight sends until ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.source.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warnw("notifier dequeue failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		// a send in progress finishes even during shutdown
		if err := w.Process(context.WithoutCancel(ctx), job); err != nil {
			w.log.Warnw("notification dropped", "kind", job.Kind, "user_id", job.UserID, "trace_id", job.TraceID, "err", err)
		}
	}
}

// Process renders and sends a single job. Delivery is best effort: a failed
// job is counted and dropped.
func (w *Worker) Process(ctx context.Context, job *Job) (err error) {
	defer func() {
		outcome := "sent"
		if err != nil {
			outcome = "failed"
		}
		metrics.IncNotification(string(job.Kind), outcome)
	}()

	if job.TraceID != "" {
		ctx = logctx.WithTraceID(ctx, job.TraceID)
	}
	user, err := w.users.UserByID(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("lookup user %d: %w", job.UserID, err)
	}
	if user.Email == "" {
		return fmt.Errorf("user %d has no email", job.UserID)
	}
	msg, err := Render(*job)
	if err != nil {
		return err
	}
	msg.ToEmail = user.Email

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := w.sender.Send(sendCtx, msg); err != nil {
		return err
	}
	logctx.FromCtx(ctx, w.log).Infow("notification sent", "kind", job.Kind, "user_id", job.UserID)
	return nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	log *zap.SugaredLogger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.log.Infow("notification (not sent, no provider configured)", "to", msg.ToEmail, "subject", msg.Subject)
	return nil
}
