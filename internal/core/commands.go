package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const textRateLimited = "Slow down a little — try again in a couple of seconds."

const textUnknownCommand = "I don't know that command. Send /help for the list."

const textAdminOnly = "That command is restricted to administrators."

const textThinking = "Thinking..."

func textUnauthorized(adminContact string) string {
	msg := "You are not authorized to use this bot."
	if adminContact != "" {
		msg += " Contact " + adminContact + " to request access."
	}
	return msg
}

func (s *Session) registerCommands() {
	for _, cmd := range []Command{
		{Route: "start", Description: "Greeting and a short intro", Access: AccessEveryone, Handle: s.cmdStart},
		{Route: "help", Description: "List available commands", Access: AccessEveryone, Handle: s.cmdHelp},
		{Route: "about", Description: "Who runs this bot", Access: AccessEveryone, Handle: s.cmdAbout},
		{Route: "chat", Description: "Enter AI conversation mode", Access: AccessAuthorized, Handle: s.cmdChat},
		{Route: "grant", Usage: "/grant <user_id>", Description: "Authorize a user", Access: AccessAdminOnly, Handle: s.cmdGrant},
		{Route: "revoke", Usage: "/revoke <user_id>", Description: "Remove a user's access", Access: AccessAdminOnly, Handle: s.cmdRevoke},
		{Route: "users", Description: "Show the authorized users", Access: AccessAdminOnly, Handle: s.cmdUsers},
		{Route: "status", Description: "Runtime status", Access: AccessAdminOnly, Handle: s.cmdStatus},
		{Route: "memory", Usage: "/memory [clear]", Description: "Inspect or clear the AI memory", Access: AccessAdminOnly, Handle: s.cmdMemory},
		{Route: "backup", Description: "Take a manual backup", Access: AccessAdminOnly, Handle: s.cmdBackup},
		{Route: "broadcast", Usage: "/broadcast <text>", Description: "Message every authorized user", Access: AccessAdminOnly, Handle: s.cmdBroadcast},
		{Route: "testsend", Usage: "/testsend <user_id>", Description: "Delivery test to one user", Access: AccessAdminOnly, Handle: s.cmdTestSend},
	} {
		s.commands[cmd.Route] = cmd
	}
}

func (s *Session) cmdStart(ctx context.Context, req *Request) error {
	name := req.Username
	if name == "" {
		name = "there"
	}
	s.reply(ctx, req.Chat.ChatID, fmt.Sprintf(
		"Hi %s! I'm an AI assistant bot. Send /chat to start a conversation, or /help for everything I can do.", name))
	return nil
}

func (s *Session) cmdHelp(ctx context.Context, req *Request) error {
	authorized := s.auth.IsAuthorized(req.FromID)
	admin := s.auth.IsAdmin(req.FromID)
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, route := range []string{
		"start", "help", "about", "chat",
		"grant", "revoke", "users", "status", "memory", "backup", "broadcast", "testsend",
	} {
		cmd := s.commands[route]
		if cmd.Access == AccessAdminOnly && !admin {
			continue
		}
		if cmd.Access == AccessAuthorized && !authorized {
			continue
		}
		usage := cmd.Usage
		if usage == "" {
			usage = "/" + cmd.Route
		}
		fmt.Fprintf(&b, "%s — %s\n", usage, cmd.Description)
	}
	if !authorized && s.adminContact != "" {
		b.WriteString("Contact " + s.adminContact + " to request access.\n")
	}
	s.reply(ctx, req.Chat.ChatID, b.String())
	return nil
}

func (s *Session) cmdAbout(ctx context.Context, req *Request) error {
	msg := "A small private AI assistant bot."
	if s.adminContact != "" {
		msg += " Run by " + s.adminContact + "."
	}
	s.reply(ctx, req.Chat.ChatID, msg)
	return nil
}

func (s *Session) cmdChat(ctx context.Context, req *Request) error {
	s.setChatting(req.FromID, true)
	s.record(ctx, req.FromID, "CHAT_MODE", "entered")
	s.reply(ctx, req.Chat.ChatID, "Chat mode on. Just type and I'll answer; commands still work as usual.")
	return nil
}

// handleChatText serves plain text. Outside chat mode it nudges the user
// toward /chat instead of silently swallowing the message.
func (s *Session) handleChatText(ctx context.Context, req *Request) error {
	if req.Text == "" {
		return nil
	}
	if !s.isChatting(req.FromID) {
		s.reply(ctx, req.Chat.ChatID, "Send /chat first to start a conversation.")
		return nil
	}

	// The placeholder makes slow completions visible; it is deleted
	// best-effort once the real answer is ready.
	placeholder, phErr := s.adapter.SendText(ctx, req.Chat, textThinking, nil)

	s.met.AIRequests.Inc()
	answer, err := s.ai.Complete(ctx, s.conv, req.Text)
	if phErr == nil {
		_ = s.adapter.DeleteMessage(ctx, placeholder)
	}
	if err != nil {
		s.met.AIErrors.Inc()
		s.reply(ctx, req.Chat.ChatID, "The AI backend is unavailable right now. Please try again later.")
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	s.conv.Append(req.Text, answer)
	s.record(ctx, req.FromID, "CHAT", truncate(req.Text, 120))
	s.reply(ctx, req.Chat.ChatID, answer)
	return nil
}

func (s *Session) cmdGrant(ctx context.Context, req *Request) error {
	id, err := parseUserID(req.Args)
	if err != nil {
		s.reply(ctx, req.Chat.ChatID, "Usage: /grant <user_id>")
		return nil
	}
	added, err := s.auth.Grant(id)
	if err != nil {
		// Persistence failures go to the acting admin only.
		s.reply(ctx, req.Chat.ChatID, "Granted in memory, but saving failed: "+err.Error())
		return err
	}
	if added {
		s.record(ctx, req.FromID, "GRANT", strconv.FormatInt(id, 10))
		s.reply(ctx, req.Chat.ChatID, fmt.Sprintf("User %d is now authorized.", id))
	} else {
		s.reply(ctx, req.Chat.ChatID, fmt.Sprintf("User %d was already authorized.", id))
	}
	return nil
}

func (s *Session) cmdRevoke(ctx context.Context, req *Request) error {
	id, err := parseUserID(req.Args)
	if err != nil {
		s.reply(ctx, req.Chat.ChatID, "Usage: /revoke <user_id>")
		return nil
	}
	removed, err := s.auth.Revoke(id)
	if err != nil {
		s.reply(ctx, req.Chat.ChatID, "Revoked in memory, but saving failed: "+err.Error())
		return err
	}
	if removed {
		s.record(ctx, req.FromID, "REVOKE", strconv.FormatInt(id, 10))
		s.reply(ctx, req.Chat.ChatID, fmt.Sprintf("User %d's access has been removed.", id))
	} else {
		s.reply(ctx, req.Chat.ChatID, fmt.Sprintf("User %d was not authorized.", id))
	}
	return nil
}

func (s *Session) cmdUsers(ctx context.Context, req *Request) error {
	ids := s.auth.ListAll()
	var b strings.Builder
	fmt.Fprintf(&b, "Authorized users: %d\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(&b, "- %d\n", id)
	}
	s.reply(ctx, req.Chat.ChatID, b.String())
	return nil
}

func (s *Session) cmdStatus(ctx context.Context, req *Request) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Uptime: %s\n", time.Since(s.startedAt).Round(time.Second))
	fmt.Fprintf(&b, "Model: %s\n", s.ai.Model())
	fmt.Fprintf(&b, "Memory: %d/%d turns\n", s.conv.Size(), s.conv.Cap())
	fmt.Fprintf(&b, "Rate limit: %s (%d tracked users)\n", s.limiter.Threshold(), s.limiter.Size())
	fmt.Fprintf(&b, "Authorized users: %d\n", s.auth.Count())
	if s.recorder != nil {
		fmt.Fprintf(&b, "Activity log: %d bytes\n", s.recorder.SizeBytes())
	} else {
		b.WriteString("Activity log: disabled\n")
	}
	fmt.Fprintf(&b, "Last automatic backup: %s\n", s.backups.LastAuto().Format(time.RFC3339))
	s.record(ctx, req.FromID, "STATUS", "")
	s.reply(ctx, req.Chat.ChatID, b.String())
	return nil
}

func (s *Session) cmdMemory(ctx context.Context, req *Request) error {
	if len(req.Args) > 0 && strings.EqualFold(req.Args[0], "clear") {
		s.conv.Clear()
		s.record(ctx, req.FromID, "MEMORY_CLEAR", "")
		s.reply(ctx, req.Chat.ChatID, "Conversation memory cleared.")
		return nil
	}
	s.reply(ctx, req.Chat.ChatID, fmt.Sprintf(
		"Conversation memory: %d of %d turns used. Send /memory clear to wipe it.", s.conv.Size(), s.conv.Cap()))
	return nil
}

func (s *Session) cmdBackup(ctx context.Context, req *Request) error {
	dir, err := s.backups.Manual(ctx)
	if err != nil {
		s.met.BackupErrors.Inc()
		s.record(ctx, req.FromID, "BACKUP_FAILED", err.Error())
		s.reply(ctx, req.Chat.ChatID, "Backup failed: "+err.Error())
		return err
	}
	s.met.BackupsTotal.Inc()
	s.record(ctx, req.FromID, "BACKUP", dir)
	s.reply(ctx, req.Chat.ChatID, "Backup complete: "+dir)
	return nil
}

func (s *Session) cmdBroadcast(ctx context.Context, req *Request) error {
	text := strings.TrimSpace(strings.TrimPrefix(req.Text, "/broadcast"))
	if text == "" {
		s.reply(ctx, req.Chat.ChatID, "Usage: /broadcast <text>")
		return nil
	}
	ids := s.auth.ListAll()
	if len(ids) == 0 {
		s.reply(ctx, req.Chat.ChatID, "No authorized users to broadcast to.")
		return nil
	}

	res := s.dispatcher.Broadcast(ctx, ids, "📢 "+text)
	s.met.BroadcastOK.Add(float64(res.Success))
	s.met.BroadcastFail.Add(float64(res.Fail))
	s.record(ctx, req.FromID, "BROADCAST",
		fmt.Sprintf("ok=%d fail=%d", res.Success, res.Fail))
	s.reply(ctx, req.Chat.ChatID, fmt.Sprintf(
		"Broadcast finished: %d delivered, %d failed.", res.Success, res.Fail))
	return nil
}

func (s *Session) cmdTestSend(ctx context.Context, req *Request) error {
	id, err := parseUserID(req.Args)
	if err != nil {
		s.reply(ctx, req.Chat.ChatID, "Usage: /testsend <user_id>")
		return nil
	}
	if err := s.dispatcher.SendOne(ctx, id, "Delivery test from your bot admin."); err != nil {
		s.met.BroadcastFail.Inc()
		s.reply(ctx, req.Chat.ChatID, fmt.Sprintf("Delivery to %d failed: %v", id, err))
		return nil
	}
	s.met.BroadcastOK.Inc()
	s.reply(ctx, req.Chat.ChatID, fmt.Sprintf("Delivery to %d succeeded.", id))
	return nil
}

func parseUserID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errors.New("expected exactly one argument")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", args[0])
	}
	return id, nil
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "…"
}
