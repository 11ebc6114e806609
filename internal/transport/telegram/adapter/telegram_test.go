package adapter

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "atisbot/internal/transport"
	logx "atisbot/pkg/logx"
)

// idlePoller delivers no updates and returns once telebot closes stop.
type idlePoller struct {
	polls   atomic.Int32
	stopped atomic.Int32
}

func (p *idlePoller) Poll(b *tele.Bot, updates chan tele.Update, stop chan struct{}) {
	p.polls.Add(1)
	<-stop
	p.stopped.Add(1)
}

func TestStartStopReleasesPoller(t *testing.T) {
	poller := &idlePoller{}
	b, err := tele.NewBot(tele.Settings{Offline: true, Poller: poller})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	a := newAdapter(Config{Token: "offline"}, logx.Nop(), b)

	for round := 1; round <= 2; round++ {
		if err := a.Start(context.Background(), make(chan kit.Update, 1)); err != nil {
			t.Fatalf("Start: %v", err)
		}
		select {
		case <-a.Ready():
		case <-time.After(time.Second):
			t.Fatal("adapter never became ready")
		}
		deadline := time.Now().Add(time.Second)
		for poller.polls.Load() < int32(round) && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		start := time.Now()
		err := a.Stop(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
		// The 2s grace period only runs out when a second bot.Stop is stuck.
		if took := time.Since(start); took > time.Second {
			t.Fatalf("round %d: Stop took %v", round, took)
		}
		if got := poller.stopped.Load(); got != int32(round) {
			t.Fatalf("round %d: poller stopped %d times", round, got)
		}
	}
}

func TestParseChannelRef(t *testing.T) {
	tests := []struct {
		in       string
		username string
		chatID   int64
		thread   int
		wantErr  bool
	}{
		{in: "@kpdx_atis", username: "@kpdx_atis"},
		{in: "kpdx_atis", username: "@kpdx_atis"},
		{in: " @kpdx_atis/42 ", username: "@kpdx_atis", thread: 42},
		{in: "-1001234567890", chatID: -1001234567890},
		{in: "-1001234567890/7", chatID: -1001234567890, thread: 7},
		{in: "", wantErr: true},
		{in: "@", wantErr: true},
		{in: "0", wantErr: true},
		{in: "@kpdx/x", wantErr: true},
		{in: "two words", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseChannelRef(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseChannelRef(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseChannelRef(%q) error: %v", tt.in, err)
		}
		if got.username != tt.username || got.chatID != tt.chatID || got.threadID != tt.thread {
			t.Fatalf("parseChannelRef(%q) = %+v", tt.in, got)
		}
	}

	if _, err := parseChannelRef("  "); !errors.Is(err, kit.ErrChannelNotFound) {
		t.Fatalf("empty name err = %v, want ErrChannelNotFound", err)
	}
}

func TestChannelRefKeyIsCaseInsensitive(t *testing.T) {
	a, _ := parseChannelRef("@KPDX_Atis")
	b, _ := parseChannelRef("kpdx_atis")
	if a.key() != b.key() {
		t.Fatalf("keys differ: %q vs %q", a.key(), b.key())
	}
}

func TestToUpdate(t *testing.T) {
	if _, ok := toUpdate(kit.UpdateMessage, nil); ok {
		t.Fatal("nil message should be ignored")
	}

	post := &tele.Message{ID: 5, Chat: &tele.Chat{ID: -100, Type: tele.ChatChannel}, Text: "!ping"}
	up, ok := toUpdate(kit.UpdateChannelPost, post)
	if !ok || up.Kind != kit.UpdateChannelPost || up.Message.FromID != 0 || up.Message.IsGroup {
		t.Fatalf("channel post update = %+v", up)
	}

	msg := &tele.Message{
		ID:     6,
		Chat:   &tele.Chat{ID: -200, Type: tele.ChatSuperGroup},
		Sender: &tele.User{ID: 9, Username: "pilot"},
		Text:   "!help",
	}
	up, ok = toUpdate(kit.UpdateMessage, msg)
	if !ok || up.Message.FromID != 9 || up.Message.FromUsername != "pilot" || !up.Message.IsGroup {
		t.Fatalf("group update = %+v", up.Message)
	}
}

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("splitText short = %q", got)
	}

	long := strings.Repeat("line of text\n", 20)
	parts := splitText(long, 50)
	if len(parts) < 2 {
		t.Fatalf("expected several parts, got %d", len(parts))
	}
	var joined []string
	for _, p := range parts {
		if n := len([]rune(p)); n > 50 {
			t.Fatalf("part too long: %d", n)
		}
		if strings.HasSuffix(p, "\n") {
			t.Fatalf("part ends with newline: %q", p)
		}
		joined = append(joined, p)
	}
	if strings.Join(joined, "\n") != strings.TrimRight(long, "\n") {
		t.Fatal("parts do not reassemble into the input")
	}

	noBreaks := strings.Repeat("é", 120)
	parts = splitText(noBreaks, 50)
	if len(parts) != 3 || len([]rune(parts[2])) != 20 {
		t.Fatalf("unexpected split of unbroken text: %d parts", len(parts))
	}
}
