package pty

import (
	"testing"
	"time"
)

func TestLeadLength(t *testing.T) {
	cases := []struct {
		b    byte
		want int
	}{
		{0x41, 1},
		{0x7F, 1},
		{0xC2, 2},
		{0xE2, 3},
		{0xF0, 4},
		{0xFF, 1}, // unrecognised lead byte: latin-1 passthrough
		{0x80, 1}, // stray continuation byte: also passthrough
	}
	for _, c := range cases {
		if got := LeadLength(c.b); got != c.want {
			t.Errorf("LeadLength(%#x) = %d, want %d", c.b, got, c.want)
		}
	}
}

func TestDecoderSplitAcrossFeeds(t *testing.T) {
	var d Decoder
	var got [][]byte

	emit := func(cluster []byte) {
		got = append(got, append([]byte{}, cluster...))
	}

	// "é" = 0xC3 0xA9, split across two Feed calls.
	d.Feed([]byte{'h', 'i', 0xC3}, emit)
	if len(got) != 2 {
		t.Fatalf("expected 2 clusters before the split byte lands, got %d", len(got))
	}
	if d.Pending() != 1 {
		t.Fatalf("expected 1 pending byte, got %d", d.Pending())
	}

	d.Feed([]byte{0xA9, '!'}, emit)
	if len(got) != 4 {
		t.Fatalf("expected 4 total clusters, got %d", len(got))
	}
	if string(got[2]) != "\xc3\xa9" {
		t.Errorf("reassembled cluster = %q, want %q", got[2], "\xc3\xa9")
	}
	if d.Pending() != 0 {
		t.Errorf("expected no pending bytes after full cluster, got %d", d.Pending())
	}
}

func TestChannelEchoRoundTrip(t *testing.T) {
	ch, err := Open(24, 80, "", "test-window", "xterm-256color", []string{"/bin/sh", "-c", "echo hello-pty"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var text []byte
	var exit *ChildExit
	deadline := time.Now().Add(5 * time.Second)

	for exit == nil && time.Now().Before(deadline) {
		e, err := ch.Read(func(clusters [][]byte) {
			for _, c := range clusters {
				text = append(text, c...)
			}
		})
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		exit = e
	}

	if exit == nil {
		t.Fatal("channel never observed child exit within deadline")
	}
	if exit.Code != 0 {
		t.Errorf("exit code = %d, want 0", exit.Code)
	}
	if !contains(text, "hello-pty") {
		t.Errorf("captured output %q does not contain expected text", text)
	}
}

func TestChannelRejectsReentrantCalls(t *testing.T) {
	ch, err := Open(24, 80, "", "test-window", "xterm", []string{"/bin/sh", "-c", "echo x; sleep 1"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	var innerErr error
	_, err = ch.Read(func(clusters [][]byte) {
		innerErr = ch.EnqueueWrite([]byte("x"))
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if innerErr != ErrDispatching {
		t.Errorf("EnqueueWrite during dispatch = %v, want ErrDispatching", innerErr)
	}
}

func contains(haystack []byte, needle string) bool {
	return len(needle) == 0 || indexOf(string(haystack), needle) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
