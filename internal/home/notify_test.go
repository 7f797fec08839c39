package home

import "testing"

func TestInbox_TopicReplaces(t *testing.T) {
	b := NewInbox(4)
	b.Notify(Notification{Topic: "profile", Level: LevelLoading, Message: "Loading"})
	b.Notify(Notification{Level: LevelError, Message: "other"})
	b.Notify(Notification{Topic: "profile", Level: LevelSuccess, Message: "Done"})

	got := b.Drain()
	if len(got) != 2 {
		t.Fatalf("Drain() = %+v, want 2 items", got)
	}
	if got[0].Message != "Done" || got[0].Level != LevelSuccess {
		t.Errorf("topic item = %+v", got[0])
	}
	if got[0].At.IsZero() {
		t.Error("At not stamped")
	}
	if again := b.Drain(); len(again) != 0 {
		t.Errorf("second Drain() = %+v", again)
	}
}

func TestInbox_DropsOldest(t *testing.T) {
	b := NewInbox(2)
	for _, m := range []string{"a", "b", "c"} {
		b.Notify(Notification{Message: m})
	}
	got := b.Drain()
	if len(got) != 2 || got[0].Message != "b" || got[1].Message != "c" {
		t.Errorf("Drain() = %+v", got)
	}
}

func TestPhase_Terminal(t *testing.T) {
	tests := []struct {
		phase Phase
		want  bool
	}{
		{PhaseIdle, false},
		{PhaseWaitingForAuth, false},
		{PhaseCheckingRemoteProfile, false},
		{PhaseUsingLocalProfile, false},
		{PhaseOnboardingRequired, true},
		{PhaseReady, true},
	}
	for _, tt := range tests {
		if got := tt.phase.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.phase, got, tt.want)
		}
	}
}
