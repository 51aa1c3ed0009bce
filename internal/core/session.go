package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"guardbot/internal/activity"
	"guardbot/internal/auth"
	"guardbot/internal/backup"
	"guardbot/internal/broadcast"
	"guardbot/internal/memory"
	"guardbot/internal/metrics"
	"guardbot/internal/ratelimit"
	kit "guardbot/internal/transport"
	"guardbot/pkg/logx"
)

// Completer is the AI backend surface the session needs.
type Completer interface {
	Complete(ctx context.Context, conv *memory.Conversation, question string) (string, error)
	Model() string
}

// Session gates and dispatches every incoming message. The admission order
// is fixed: authorization first, rate limit second, handler last. A message
// failing an earlier stage leaves no trace in the later ones.
type Session struct {
	adapter    kit.Adapter
	auth       *auth.Store
	limiter    *ratelimit.Limiter
	conv       *memory.Conversation
	ai         Completer
	recorder   activity.Recorder // nil when the activity log is disabled
	backups    *backup.Scheduler
	dispatcher *broadcast.Dispatcher
	met        *metrics.Set
	log        logx.Logger

	adminContact string
	startedAt    time.Time

	chatMu   sync.Mutex
	chatting map[int64]bool

	commands map[string]Command
	handler  HandlerFunc
}

type SessionDeps struct {
	Adapter    kit.Adapter
	Auth       *auth.Store
	Limiter    *ratelimit.Limiter
	Memory     *memory.Conversation
	AI         Completer
	Recorder   activity.Recorder
	Backups    *backup.Scheduler
	Dispatcher *broadcast.Dispatcher
	Metrics    *metrics.Set

	AdminContact string
}

func NewSession(deps SessionDeps, log logx.Logger) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Session{
		adapter:      deps.Adapter,
		auth:         deps.Auth,
		limiter:      deps.Limiter,
		conv:         deps.Memory,
		ai:           deps.AI,
		recorder:     deps.Recorder,
		backups:      deps.Backups,
		dispatcher:   deps.Dispatcher,
		met:          deps.Metrics,
		log:          log,
		adminContact: deps.AdminContact,
		startedAt:    time.Now(),
		chatting:     map[int64]bool{},
		commands:     map[string]Command{},
	}
	s.registerCommands()
	s.handler = Chain(s.dispatch,
		MWPanicRecover(log),
		MWRequestLog(log),
		// Broadcasts to a large user set are the slowest handler; the
		// ceiling is for handlers that hang, not ones that work.
		MWTimeout(2*time.Minute),
	)
	return s
}

// Run consumes updates until the context ends. A single consumer keeps
// handler ordering deterministic; the stores are still individually locked
// so this could fan out later without changes below this layer.
func (s *Session) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			s.Handle(ctx, up)
		}
	}
}

// admit gates one sender: authorization first, rate limit second. An
// unauthorized sender never reaches the limiter, so denial leaves no
// rate-limiter entry behind.
func (s *Session) admit(userID int64) error {
	if !s.auth.IsAuthorized(userID) {
		return ErrUnauthorized
	}
	if !s.limiter.TryAdmit(userID) {
		return ErrRateLimited
	}
	return nil
}

// Handle runs one update through admission and dispatch. Errors are
// handled by replying to the user; nothing propagates.
func (s *Session) Handle(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	m := up.Message
	req := s.parseRequest(up)

	if err := s.admit(m.FromID); err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			// The public tier (start/help/about) is served to everyone;
			// it carries no privileged state, so it bypasses the limiter
			// and the activity log the same way a denial does.
			if cmd, ok := s.commands[req.Command]; ok && cmd.Access == AccessEveryone {
				if herr := s.handler(ctx, req); herr != nil {
					s.log.Debug("public handler error", logx.String("cmd", req.Command), logx.Err(herr))
				}
				return
			}
			s.met.MessagesDenied.Inc()
			s.reply(ctx, m.ChatID, textUnauthorized(s.adminContact))
		case errors.Is(err, ErrRateLimited):
			// Rejection does not slide the sender's window.
			s.met.MessagesThrottled.Inc()
			s.reply(ctx, m.ChatID, textRateLimited)
		}
		return
	}
	s.met.MessagesAdmitted.Inc()

	// Admitted traffic drives the automatic backup clock.
	if dir, attempted, err := s.backups.TickOnActivity(ctx); attempted {
		if err != nil {
			s.met.BackupErrors.Inc()
			s.log.Error("automatic backup failed", logx.Err(err))
		} else {
			s.met.BackupsTotal.Inc()
			s.log.Info("automatic backup completed", logx.String("dir", dir))
		}
	}

	if err := s.handler(ctx, req); err != nil {
		s.log.Debug("handler error", logx.String("cmd", req.Command), logx.Err(err))
	}
}

func (s *Session) parseRequest(up kit.Update) *Request {
	m := up.Message
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: m.ChatID},
		FromID:   m.FromID,
		Username: m.FromUsername,
		Text:     strings.TrimSpace(m.Text),
	}
	if strings.HasPrefix(req.Text, "/") {
		fields := strings.Fields(req.Text)
		route := strings.TrimPrefix(fields[0], "/")
		// Group chats suffix commands with the bot name: /status@somebot.
		if i := strings.IndexByte(route, '@'); i >= 0 {
			route = route[:i]
		}
		req.Command = strings.ToLower(route)
		req.Args = fields[1:]
	} else {
		req.Command = "chat.text"
	}
	return req
}

func (s *Session) dispatch(ctx context.Context, req *Request) error {
	if req.Command == "chat.text" {
		return s.handleChatText(ctx, req)
	}

	cmd, ok := s.commands[req.Command]
	if !ok {
		s.reply(ctx, req.Chat.ChatID, textUnknownCommand)
		return nil
	}
	if cmd.Access == AccessAdminOnly && !s.auth.IsAdmin(req.FromID) {
		s.reply(ctx, req.Chat.ChatID, textAdminOnly)
		return nil
	}
	return cmd.Handle(ctx, req)
}

// reply is a best-effort send; delivery failures are logged and dropped.
func (s *Session) reply(ctx context.Context, chatID int64, text string) {
	if _, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		s.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// record writes an activity entry, swallowing failures: audit logging must
// never break message handling.
func (s *Session) record(ctx context.Context, userID int64, action, details string) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.Record(ctx, activity.Entry{
		At:      time.Now(),
		UserID:  userID,
		Action:  action,
		Details: details,
	})
	if err != nil {
		s.log.Warn("activity record failed", logx.String("action", action), logx.Err(err))
	}
}

func (s *Session) isChatting(userID int64) bool {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	return s.chatting[userID]
}

func (s *Session) setChatting(userID int64, on bool) {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	if on {
		s.chatting[userID] = true
	} else {
		delete(s.chatting, userID)
	}
}
