package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
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

const (
	adminID = int64(100)
	userID  = int64(200)
)

type sentMsg struct {
	chatID int64
	text   string
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sentMsg
	deleted []kit.MessageRef
	failFor map[int64]bool
	nextID  int
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                    { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to.ChatID] {
		return kit.MessageRef{}, errors.New("delivery failed")
	}
	f.nextID++
	f.sent = append(f.sent, sentMsg{chatID: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeAdapter) sentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.chatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

type fakeAI struct {
	answer string
	err    error
	asked  []string
}

func (f *fakeAI) Complete(_ context.Context, _ *memory.Conversation, q string) (string, error) {
	f.asked = append(f.asked, q)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeAI) Model() string { return "fake-model" }

type fixture struct {
	session  *Session
	adapter  *fakeAdapter
	auth     *auth.Store
	limiter  *ratelimit.Limiter
	conv     *memory.Conversation
	ai       *fakeAI
	logPath  string
	now      time.Time
	advClock func(time.Duration)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	store, err := auth.New(filepath.Join(root, "users.json"), []int64{adminID}, logx.Nop())
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}

	logPath := filepath.Join(root, "logs", "activity.log")
	recorder, err := activity.Open(activity.Config{Driver: "file", Path: logPath}, logx.Nop())
	if err != nil {
		t.Fatalf("activity.Open: %v", err)
	}
	t.Cleanup(func() { _ = recorder.Close() })

	f := &fixture{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	f.advClock = func(d time.Duration) { f.now = f.now.Add(d) }
	clock := func() time.Time { return f.now }

	f.adapter = &fakeAdapter{failFor: map[int64]bool{}}
	f.auth = store
	f.limiter = ratelimit.New(2*time.Second, ratelimit.WithClock(clock))
	f.conv = memory.New(3)
	f.ai = &fakeAI{answer: "the answer"}
	f.logPath = logPath

	backups := backup.New(backup.Config{
		Dir:      filepath.Join(root, "backups"),
		Interval: 24 * time.Hour,
	}, backup.Sources{
		AuthStorePath: store.Path(),
		ActivityDir:   filepath.Dir(logPath),
	}, logx.Nop(), backup.WithClock(clock))

	dispatcher := broadcast.New(broadcast.Strategies(f.adapter), 1000, logx.Nop())

	f.session = NewSession(SessionDeps{
		Adapter:      f.adapter,
		Auth:         store,
		Limiter:      f.limiter,
		Memory:       f.conv,
		AI:           f.ai,
		Recorder:     recorder,
		Backups:      backups,
		Dispatcher:   dispatcher,
		Metrics:      metrics.New(),
		AdminContact: "@the_admin",
	}, logx.Nop())
	return f
}

func msg(from int64, text string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:     1,
			ChatID: from,
			FromID: from,
			Text:   text,
		},
	}
}

func (f *fixture) handle(t *testing.T, from int64, text string) {
	t.Helper()
	f.session.Handle(context.Background(), msg(from, text))
	// Keep messages from the same sender outside the rate-limit window
	// unless a test narrows the spacing on purpose.
	f.advClock(3 * time.Second)
}

func (f *fixture) activityLog(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(f.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("read activity log: %v", err)
	}
	return string(b)
}

func TestUnauthorizedUserLeavesNoState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	stranger := int64(999)

	f.handle(t, stranger, "/chat")
	f.handle(t, stranger, "hello?")

	replies := f.adapter.sentTo(stranger)
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(replies))
	}
	for _, r := range replies {
		if !strings.Contains(r, "not authorized") || !strings.Contains(r, "@the_admin") {
			t.Fatalf("denial text = %q", r)
		}
	}
	if f.limiter.Size() != 0 {
		t.Fatal("unauthorized traffic must not create rate-limiter entries")
	}
	if f.conv.Size() != 0 {
		t.Fatal("unauthorized traffic must not touch memory")
	}
	if log := f.activityLog(t); strings.Contains(log, "999") {
		t.Fatalf("unauthorized traffic recorded in activity log: %q", log)
	}
}

func TestPublicCommandsServeUnauthorizedUsers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	stranger := int64(999)

	f.handle(t, stranger, "/start")
	f.handle(t, stranger, "/help")
	f.handle(t, stranger, "/about")

	replies := f.adapter.sentTo(stranger)
	if len(replies) != 3 {
		t.Fatalf("got %d replies, want 3", len(replies))
	}
	if !strings.Contains(replies[0], "Hi") {
		t.Fatalf("/start reply = %q, want greeting", replies[0])
	}
	if strings.Contains(replies[1], "/grant") || strings.Contains(replies[1], "/chat") {
		t.Fatalf("/help for a stranger lists privileged commands: %q", replies[1])
	}
	if !strings.Contains(replies[1], "@the_admin") {
		t.Fatalf("/help for a stranger = %q, want access-request pointer", replies[1])
	}
	if !strings.Contains(replies[2], "@the_admin") {
		t.Fatalf("/about reply = %q", replies[2])
	}
	// The public tier must leave the same zero state a denial does.
	if f.limiter.Size() != 0 {
		t.Fatal("public commands must not create rate-limiter entries for strangers")
	}
	if log := f.activityLog(t); strings.Contains(log, "999") {
		t.Fatalf("public traffic recorded in activity log: %q", log)
	}
}

func TestHelpListsMoreForHigherTiers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, err := f.auth.Grant(userID); err != nil {
		t.Fatal(err)
	}

	f.handle(t, userID, "/help")
	f.handle(t, adminID, "/help")

	userHelp := f.adapter.sentTo(userID)[0]
	adminHelp := f.adapter.sentTo(adminID)[0]
	if !strings.Contains(userHelp, "/chat") || strings.Contains(userHelp, "/grant") {
		t.Fatalf("authorized help = %q", userHelp)
	}
	if !strings.Contains(adminHelp, "/grant") || !strings.Contains(adminHelp, "/broadcast") {
		t.Fatalf("admin help = %q", adminHelp)
	}
}

func TestAdmitReturnsSentinelErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.session.admit(999); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("admit(stranger) = %v, want ErrUnauthorized", err)
	}
	if f.limiter.Size() != 0 {
		t.Fatal("unauthorized admit must not touch the limiter")
	}

	if err := f.session.admit(adminID); err != nil {
		t.Fatalf("admit(admin) = %v, want nil", err)
	}
	f.advClock(500 * time.Millisecond)
	if err := f.session.admit(adminID); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("rapid second admit = %v, want ErrRateLimited", err)
	}
}

func TestRateLimitRejectsRapidSecondMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.session.Handle(context.Background(), msg(adminID, "/help"))
	f.advClock(500 * time.Millisecond)
	f.session.Handle(context.Background(), msg(adminID, "/help"))

	replies := f.adapter.sentTo(adminID)
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(replies))
	}
	if !strings.Contains(replies[1], "Slow down") {
		t.Fatalf("second reply = %q, want throttle notice", replies[1])
	}
}

func TestGrantRevokeFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.handle(t, adminID, "/grant 555")
	if !f.auth.IsAuthorized(555) {
		t.Fatal("grant did not authorize the user")
	}
	f.handle(t, adminID, "/grant 555")
	f.handle(t, adminID, "/revoke 555")
	if f.auth.IsAuthorized(555) {
		t.Fatal("revoke did not remove the user")
	}

	replies := f.adapter.sentTo(adminID)
	if len(replies) != 3 {
		t.Fatalf("got %d replies, want 3", len(replies))
	}
	if !strings.Contains(replies[0], "now authorized") {
		t.Fatalf("grant reply = %q", replies[0])
	}
	if !strings.Contains(replies[1], "already authorized") {
		t.Fatalf("duplicate grant reply = %q", replies[1])
	}
	if !strings.Contains(replies[2], "removed") {
		t.Fatalf("revoke reply = %q", replies[2])
	}

	log := f.activityLog(t)
	if !strings.Contains(log, "Action: GRANT | Details: 555") {
		t.Fatalf("grant not recorded: %q", log)
	}
	if !strings.Contains(log, "Action: REVOKE | Details: 555") {
		t.Fatalf("revoke not recorded: %q", log)
	}
}

func TestAdminCommandsRejectedForNonAdmins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, err := f.auth.Grant(userID); err != nil {
		t.Fatal(err)
	}

	f.handle(t, userID, "/grant 777")
	if f.auth.IsAuthorized(777) {
		t.Fatal("non-admin grant must not take effect")
	}
	replies := f.adapter.sentTo(userID)
	if len(replies) != 1 || !strings.Contains(replies[0], "restricted") {
		t.Fatalf("replies = %v, want admin-only notice", replies)
	}
}

func TestChatFlowUsesPlaceholderAndMemory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, err := f.auth.Grant(userID); err != nil {
		t.Fatal(err)
	}

	f.handle(t, userID, "/chat")
	f.handle(t, userID, "what is a monad?")

	replies := f.adapter.sentTo(userID)
	if len(replies) != 3 {
		t.Fatalf("got %d replies, want 3 (mode on, thinking, answer)", len(replies))
	}
	if replies[1] != "Thinking..." {
		t.Fatalf("placeholder = %q", replies[1])
	}
	if replies[2] != "the answer" {
		t.Fatalf("answer = %q", replies[2])
	}
	if len(f.adapter.deleted) != 1 {
		t.Fatalf("placeholder deletions = %d, want 1", len(f.adapter.deleted))
	}
	if f.conv.Size() != 2 {
		t.Fatalf("memory size = %d, want 2 turns", f.conv.Size())
	}
}

func TestPlainTextOutsideChatModeGetsHint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, err := f.auth.Grant(userID); err != nil {
		t.Fatal(err)
	}

	f.handle(t, userID, "hello")
	replies := f.adapter.sentTo(userID)
	if len(replies) != 1 || !strings.Contains(replies[0], "/chat") {
		t.Fatalf("replies = %v, want /chat hint", replies)
	}
	if len(f.ai.asked) != 0 {
		t.Fatal("AI must not be called outside chat mode")
	}
}

func TestAIFailureLeavesMemoryUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, err := f.auth.Grant(userID); err != nil {
		t.Fatal(err)
	}
	f.ai.err = errors.New("backend down")

	f.handle(t, userID, "/chat")
	f.handle(t, userID, "question")

	if f.conv.Size() != 0 {
		t.Fatal("failed completion must not be appended to memory")
	}
	replies := f.adapter.sentTo(userID)
	last := replies[len(replies)-1]
	if !strings.Contains(last, "unavailable") {
		t.Fatalf("failure reply = %q", last)
	}
}

func TestBroadcastReportsTally(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for _, id := range []int64{201, 202, 203} {
		if _, err := f.auth.Grant(id); err != nil {
			t.Fatal(err)
		}
	}
	// 202 fails on every delivery strategy.
	f.adapter.failFor[202] = true

	f.handle(t, adminID, "/broadcast server maintenance at noon")

	replies := f.adapter.sentTo(adminID)
	if len(replies) != 1 {
		t.Fatalf("got %d admin replies, want 1", len(replies))
	}
	if !strings.Contains(replies[0], "2 delivered, 1 failed") {
		t.Fatalf("tally reply = %q", replies[0])
	}
	for _, id := range []int64{201, 203} {
		got := f.adapter.sentTo(id)
		if len(got) != 1 || !strings.Contains(got[0], "server maintenance") {
			t.Fatalf("recipient %d got %v", id, got)
		}
	}
}

func TestMemoryClearCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.conv.Append("q", "a")

	f.handle(t, adminID, "/memory clear")
	if f.conv.Size() != 0 {
		t.Fatal("memory not cleared")
	}
	replies := f.adapter.sentTo(adminID)
	if len(replies) != 1 || !strings.Contains(replies[0], "cleared") {
		t.Fatalf("replies = %v", replies)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.handle(t, adminID, "/frobnicate")
	replies := f.adapter.sentTo(adminID)
	if len(replies) != 1 || !strings.Contains(replies[0], "/help") {
		t.Fatalf("replies = %v", replies)
	}
}

func TestCommandWithBotNameSuffix(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.handle(t, adminID, "/users@some_bot")
	replies := f.adapter.sentTo(adminID)
	if len(replies) != 1 || !strings.Contains(replies[0], "Authorized users") {
		t.Fatalf("replies = %v", replies)
	}
}
