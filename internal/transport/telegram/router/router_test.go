package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "nova/internal/transport"
	logx "nova/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	answered []string
	menu     []kit.BotCommand
	menuDone chan struct{}
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{menuDone: make(chan struct{}, 1)} }

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id+"="+text)
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	f.menuDone <- struct{}{}
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func message(chat, from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: from, Text: text}}
}

func callback(chat, from int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", ChatID: chat, FromID: from, Data: data}}
}

func newTestRouter(t *testing.T, cmds ...Command) (*Router, *fakeAdapter) {
	t.Helper()
	fa := newFakeAdapter()
	r := New(Config{}, fa, logx.Nop())
	r.SetCommands(context.Background(), cmds)
	select {
	case <-fa.menuDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("menu was not published")
	}
	return r, fa
}

func TestRouteCommandArgs(t *testing.T) {
	t.Parallel()

	var got []string
	r, fa := newTestRouter(t, Command{
		Name:    "task",
		Aliases: []string{"t"},
		Handle: func(ctx context.Context, req *Request) error {
			got = req.Args
			return req.Reply(ctx, "ok:"+req.Command, nil)
		},
	})

	r.Route(context.Background(), message(1, 7, `/t@nova_bot "Write report" 1020 3h`))
	if strings.Join(got, "|") != "Write report|1020|3h" {
		t.Fatalf("args = %q", got)
	}
	if s := fa.texts(); len(s) != 1 || s[0] != "ok:task" {
		t.Fatalf("sent = %q", s)
	}
}

func TestRouteUnknownAndOwnerOnly(t *testing.T) {
	t.Parallel()

	called := false
	r, fa := newTestRouter(t, Command{
		Name:   "jobs",
		Access: AccessOwnerOnly,
		Handle: func(context.Context, *Request) error { called = true; return nil },
	})
	r.SetOwners([]int64{42})

	r.Route(context.Background(), message(1, 7, "/nope"))
	r.Route(context.Background(), message(1, 7, "/jobs"))
	if called {
		t.Fatalf("owner-only command ran for a stranger")
	}
	r.Route(context.Background(), message(1, 42, "/jobs"))
	if !called {
		t.Fatalf("owner-only command did not run for the owner")
	}
	s := fa.texts()
	if len(s) != 2 || !strings.HasPrefix(s[0], "Unknown command") || s[1] != "unauthorized" {
		t.Fatalf("sent = %q", s)
	}
}

func TestRouteCallbackPayload(t *testing.T) {
	t.Parallel()

	r, fa := newTestRouter(t)
	var payload, command string
	r.SetCallbacks([]CallbackRoute{{
		Prefix: "alert",
		Action: "edit",
		Handle: func(_ context.Context, req *Request) error {
			payload, command = req.Payload, req.Command
			return nil
		},
	}})

	r.Route(context.Background(), callback(5, 5, "alert:edit:Deep work"))
	if payload != "Deep work" || command != "cb:alert:edit" {
		t.Fatalf("payload=%q command=%q", payload, command)
	}
	if len(fa.answered) != 1 || fa.answered[0] != "cb1=" {
		t.Fatalf("answered = %q", fa.answered)
	}
}

func TestRouteTextFallbackAndPanic(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)
	var seen string
	r.SetText(func(_ context.Context, req *Request) error {
		seen = req.Text
		if req.Text == "boom" {
			panic("boom")
		}
		return nil
	})

	r.Route(context.Background(), message(3, 3, "  Write report "))
	if seen != "Write report" {
		t.Fatalf("text = %q", seen)
	}
	// A panicking handler must not escape Route.
	r.Route(context.Background(), message(3, 3, "boom"))
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()

	r, fa := newTestRouter(t,
		Command{Name: "sync", Description: "rebuild alerts", Handle: func(context.Context, *Request) error { return nil }},
		Command{Name: "jobs", Description: "list jobs", Access: AccessOwnerOnly, Handle: func(context.Context, *Request) error { return nil }},
	)
	help := r.helpText(nil)
	if !strings.Contains(help, "/sync - rebuild alerts") || !strings.Contains(help, "/jobs - list jobs (owner)") {
		t.Fatalf("help = %q", help)
	}
	if !strings.Contains(r.helpText([]string{"sync"}), "rebuild alerts") {
		t.Fatalf("command help missing description")
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	names := make([]string, 0, len(fa.menu))
	for _, c := range fa.menu {
		names = append(names, c.Command)
	}
	if strings.Join(names, ",") != "help,jobs,sync" {
		t.Fatalf("menu = %v", names)
	}
}

func TestDispatchLoopKeepsChatOrder(t *testing.T) {
	t.Parallel()

	fa := newFakeAdapter()
	r := New(Config{Workers: 3, QueueSize: 64}, fa, logx.Nop())

	var mu sync.Mutex
	perChat := map[int64][]string{}
	done := make(chan struct{}, 64)
	r.SetText(func(_ context.Context, req *Request) error {
		mu.Lock()
		perChat[req.Chat.ChatID] = append(perChat[req.Chat.ChatID], req.Text)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 64)
	loopDone := make(chan error, 1)
	go func() { loopDone <- r.DispatchLoop(ctx, updates) }()

	want := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, txt := range want {
		for chat := int64(1); chat <= 4; chat++ {
			updates <- message(chat, chat, txt)
		}
	}
	for i := 0; i < len(want)*4; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d requests", i)
		}
	}
	cancel()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("DispatchLoop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for chat, got := range perChat {
		if strings.Join(got, "") != strings.Join(want, "") {
			t.Fatalf("chat %d order = %v", chat, got)
		}
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want []string
	}{
		{"/sync", []string{"/sync"}},
		{`/task "Write report" 1020 3h`, []string{"/task", "Write report", "1020", "3h"}},
		{`/habit 'Run' 3 30m`, []string{"/habit", "Run", "3", "30m"}},
		{`/task a\ b ""`, []string{"/task", "a b", ""}},
		{"   ", nil},
	}
	for _, tc := range cases {
		got := tokenizeCommandLine(tc.in)
		if strings.Join(got, "|") != strings.Join(tc.want, "|") || len(got) != len(tc.want) {
			t.Fatalf("tokenize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Sync":                  "sync",
		"back-log":              "back_log",
		"  a  b ":               "a_b",
		"9lives":                "cmd_9lives",
		"!!!":                   "",
		strings.Repeat("x", 40): strings.Repeat("x", 32),
	}
	for in, want := range cases {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
