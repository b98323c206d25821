package call

import (
	"sync"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		local, remote bool
		want          State
	}{
		{false, false, Idle},
		{true, false, Outgoing},
		{false, true, Incoming},
		{true, true, Acknowledged},
	}
	for _, tt := range tests {
		if got := Resolve(tt.local, tt.remote); got != tt.want {
			t.Errorf("Resolve(%v, %v) = %v, want %v", tt.local, tt.remote, got, tt.want)
		}
	}
}

func TestMachine_CallSequence(t *testing.T) {
	m := NewMachine()
	var seen []State
	m.Subscribe(func(s State, _ bool) { seen = append(seen, s) })

	m.SetLocal(true)
	if m.State() != Outgoing || !m.IsCalling() || m.IsBeingCalled() {
		t.Fatalf("expected Outgoing, got %v", m.State())
	}

	m.SetRemote(true)
	if m.State() != Acknowledged || !m.IsCalling() || !m.IsBeingCalled() {
		t.Fatalf("expected Acknowledged, got %v", m.State())
	}

	m.SetLocal(false)
	if m.State() != Incoming || m.IsCalling() || !m.IsBeingCalled() {
		t.Fatalf("expected Incoming, got %v", m.State())
	}

	want := []State{Outgoing, Acknowledged, Incoming}
	if len(seen) != len(want) {
		t.Fatalf("expected notifications %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected notifications %v, got %v", want, seen)
		}
	}
}

func TestMachine_RepeatedInputIsSilent(t *testing.T) {
	m := NewMachine()
	notified := 0
	m.Subscribe(func(State, bool) { notified++ })

	// Every received packet re-reports the remote flag
	for i := 0; i < 50; i++ {
		m.SetRemote(false)
	}
	m.SetRemote(true)
	for i := 0; i < 50; i++ {
		m.SetRemote(true)
	}

	if notified != 1 {
		t.Fatalf("expected 1 notification, got %d", notified)
	}
}

func TestMachine_ListenerGetsCallingFlag(t *testing.T) {
	m := NewMachine()
	var flags []bool
	m.Subscribe(func(_ State, calling bool) { flags = append(flags, calling) })

	m.SetRemote(true) // Incoming
	m.SetLocal(true)  // Acknowledged
	m.Clear()         // Idle

	want := []bool{false, true, false}
	if len(flags) != 3 || flags[0] != want[0] || flags[1] != want[1] || flags[2] != want[2] {
		t.Fatalf("expected %v, got %v", want, flags)
	}
	if m.State() != Idle {
		t.Fatalf("expected Idle after Clear, got %v", m.State())
	}
}

func TestMachine_NotificationsFollowChangeOrder(t *testing.T) {
	m := NewMachine()

	var mu sync.Mutex
	var seen []State
	entered := make(chan struct{})
	release := make(chan struct{})
	m.Subscribe(func(s State, _ bool) {
		mu.Lock()
		seen = append(seen, s)
		first := len(seen) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.SetLocal(true) // button task
	}()
	<-entered
	go func() {
		defer wg.Done()
		m.SetRemote(true) // receive loop
	}()

	deadline := time.Now().Add(time.Second)
	for m.State() != Acknowledged && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	early := len(seen)
	mu.Unlock()
	if early != 1 {
		t.Errorf("second notification overtook the first: %v", seen)
	}

	close(release)
	wg.Wait()

	if len(seen) != 2 || seen[0] != Outgoing || seen[1] != Acknowledged {
		t.Fatalf("expected [Outgoing Acknowledged], got %v", seen)
	}
	if seen[len(seen)-1] != m.State() {
		t.Errorf("last notification %v differs from state %v", seen[len(seen)-1], m.State())
	}
}
