package autoreply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/conversation"
)

// TaskGenerate is the asynq task type of an auto-reply job.
const TaskGenerate = "autoreply:generate"

type taskPayload struct {
	AccountID      string `json:"account_id"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// NewGenerateTask encodes a job. Only ids travel, the worker reloads the rows.
func NewGenerateTask(job Job) (*asynq.Task, error) {
	payload, err := json.Marshal(taskPayload{
		AccountID:      job.Account.ID,
		ConversationID: job.Conversation.ID,
		Text:           job.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("asynq: encode payload: %w", err)
	}
	return asynq.NewTask(TaskGenerate, payload), nil
}

// AsynqScheduler enqueues jobs in Redis for a Worker to run.
type AsynqScheduler struct {
	client  *asynq.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewAsynqScheduler creates a scheduler backed by the Redis at redisURL.
func NewAsynqScheduler(log *slog.Logger, redisURL string, timeout time.Duration) (*AsynqScheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("asynq: redis url is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &AsynqScheduler{
		client:  asynq.NewClient(opt),
		timeout: timeout,
		logger:  log.With(slog.String("component", "autoreply_scheduler")),
	}, nil
}

// Submit enqueues the job. Jobs are not retried, a retry could send the
// reply twice.
func (s *AsynqScheduler) Submit(ctx context.Context, job Job) error {
	task, err := NewGenerateTask(job)
	if err != nil {
		return err
	}
	info, err := s.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.Timeout(s.timeout))
	if err != nil {
		return fmt.Errorf("asynq: enqueue: %w", err)
	}
	s.logger.Debug("auto-reply job enqueued", slog.String("task_id", info.ID), slog.String("conversation_id", job.Conversation.ID))
	return nil
}

// Close releases the Redis connection.
func (s *AsynqScheduler) Close() error {
	return s.client.Close()
}

type accountGetter interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
}

type conversationGetter interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
}

// Worker consumes auto-reply tasks.
type Worker struct {
	server        *asynq.Server
	accounts      accountGetter
	conversations conversationGetter
	replier       Replier
	logger        *slog.Logger
}

// NewWorker creates a Worker. The asynq server is built only when redisURL is
// set, so HandleGenerate can be used on its own.
func NewWorker(log *slog.Logger, redisURL string, concurrency int, accountStore accountGetter, conversations conversationGetter, replier Replier) (*Worker, error) {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		accounts:      accountStore,
		conversations: conversations,
		replier:       replier,
		logger:        log.With(slog.String("component", "autoreply_worker")),
	}
	if strings.TrimSpace(redisURL) == "" {
		return w, nil
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Logger:      asynqLogger{l: w.logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			w.logger.Error("asynq task failed", slog.String("type", task.Type()), slog.Any("error", err))
		}),
	})
	return w, nil
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	if w.server == nil {
		return errors.New("asynq: worker has no server")
	}
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskGenerate, w.HandleGenerate)
	return w.server.Start(mux)
}

// Stop waits for running tasks and shuts the server down.
func (w *Worker) Stop() {
	if w.server != nil {
		w.server.Shutdown()
	}
}

// HandleGenerate runs one auto-reply task.
func (w *Worker) HandleGenerate(ctx context.Context, task *asynq.Task) error {
	var p taskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	account, err := w.accounts.Get(ctx, p.AccountID)
	if err != nil {
		return fmt.Errorf("load account %s: %v: %w", p.AccountID, err, asynq.SkipRetry)
	}
	conv, err := w.conversations.Get(ctx, p.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %v: %w", p.ConversationID, err, asynq.SkipRetry)
	}
	if _, err := w.replier.Reply(ctx, account, conv, p.Text); err != nil {
		return err
	}
	return nil
}

// asynqLogger routes asynq's logs to slog. Fatal exits the process.
type asynqLogger struct {
	l    *slog.Logger
	exit func(code int)
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...), slog.Bool("fatal", true))
	exit := a.exit
	if exit == nil {
		exit = os.Exit
	}
	exit(1)
}
