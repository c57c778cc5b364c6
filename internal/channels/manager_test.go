package channels

import (
	"testing"
)

func TestTransportNameForJID(t *testing.T) {
	cases := []struct {
		jid  string
		want string
	}{
		{"123456789", "telegram"},
		{"-1002541239372", "telegram"},
		{"84901234567@s.whatsapp.net", "linked"},
		{"group-abc@g.us", "linked"},
		{"", "linked"},
		{"12a34", "linked"},
		{"--123", "linked"},
	}
	for _, tc := range cases {
		if got := TransportNameForJID(tc.jid); got != tc.want {
			t.Errorf("TransportNameForJID(%q) = %q, want %q", tc.jid, got, tc.want)
		}
	}
}

func TestChatLimiterBurst(t *testing.T) {
	l := NewChatLimiter()
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("chat-1") {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("burst allowed %d messages, want 5", allowed)
	}
	// a different chat has its own bucket
	if !l.Allow("chat-2") {
		t.Error("fresh chat should not be limited")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("short string changed: %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("Truncate = %q, want %q", got, "hello...")
	}
}
