package autoreply

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/message"
)

const defaultJobTimeout = 2 * time.Minute

// Job asks for one reply to the latest inbound text of a conversation.
type Job struct {
	Account      accounts.Account
	Conversation conversation.Conversation
	Text         string
}

// Scheduler runs jobs off the ingestion path.
type Scheduler interface {
	Submit(ctx context.Context, job Job) error
}

// Replier is the part of Orchestrator a scheduler runs.
type Replier interface {
	Reply(ctx context.Context, account accounts.Account, conv conversation.Conversation, latestText string) (message.Message, error)
}

// InlineScheduler runs each job in its own goroutine inside this process.
type InlineScheduler struct {
	replier Replier
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewInlineScheduler creates an InlineScheduler. timeout bounds each job.
func NewInlineScheduler(log *slog.Logger, replier Replier, timeout time.Duration) *InlineScheduler {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &InlineScheduler{
		replier: replier,
		timeout: timeout,
		logger:  log.With(slog.String("component", "autoreply_scheduler")),
	}
}

// Submit starts the job and returns at once. The job keeps running after the
// submitting request has finished.
func (s *InlineScheduler) Submit(ctx context.Context, job Job) error {
	jobCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(jobCtx, s.timeout)
		defer cancel()
		if _, err := s.replier.Reply(ctx, job.Account, job.Conversation, job.Text); err != nil {
			s.logger.Error("auto-reply job failed",
				slog.String("conversation_id", job.Conversation.ID),
				slog.Any("error", err),
			)
		}
	}()
	return nil
}

// Wait blocks until every submitted job has finished.
func (s *InlineScheduler) Wait() {
	s.wg.Wait()
}
