package core

import "testing"

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to AgentStatus
		want     bool
	}{
		{StatusUninitialized, StatusIdle, true},
		{StatusUninitialized, StatusBusy, false},
		{StatusIdle, StatusBusy, true},
		{StatusBusy, StatusIdle, true},
		{StatusBusy, StatusError, true},
		{StatusError, StatusIdle, true},
		{StatusError, StatusBusy, false},
		{StatusTerminated, StatusIdle, false},
		{StatusTerminated, StatusTerminated, false},
		{StatusIdle, StatusTerminated, true},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestLive(t *testing.T) {
	for status, want := range map[AgentStatus]bool{
		StatusUninitialized: false,
		StatusIdle:          true,
		StatusBusy:          true,
		StatusError:         false,
		StatusTerminated:    false,
	} {
		if got := status.Live(); got != want {
			t.Errorf("Live(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestReplyThreading(t *testing.T) {
	req := NewMessage("caller", "worker", "payload")
	if req.Type != MessageRequest || req.ID == "" {
		t.Fatalf("unexpected request: %+v", req)
	}

	reply := NewReply(req, "worker", "result")
	if reply.InReplyTo != req.ID {
		t.Fatalf("reply not threaded: %+v", reply)
	}
	if reply.RecipientID != "caller" || reply.SenderID != "worker" {
		t.Fatalf("reply misaddressed: %+v", reply)
	}
	if reply.ID == req.ID {
		t.Fatalf("reply must carry its own id")
	}

	errReply := NewErrorReply(req, "worker", nil)
	if errReply.Type != MessageError || errReply.Content != "" {
		t.Fatalf("unexpected error reply: %+v", errReply)
	}

	b := NewBroadcast("system", "worker", "ping")
	if b.Type != MessageBroadcast || b.InReplyTo != "" {
		t.Fatalf("unexpected broadcast: %+v", b)
	}
}
