package conversation

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func newTestManager(t *testing.T, window int) *Manager {
	t.Helper()
	st := NewStore(t.TempDir(), func(uuid.UUID) int { return 1 }, testLogger())
	return NewManager(st, window, testLogger())
}

func TestManagerWindowing(t *testing.T) {
	const window = 4
	m := newTestManager(t, window)
	if m.Window() != window {
		t.Fatalf("Window() = %d, want %d", m.Window(), window)
	}
	s := m.GetOrCreate(uuid.New(), uuid.New())

	for n := 1; n <= 9; n++ {
		s.Append(RoleUser, fmt.Sprintf("message %d", n))

		got := m.WindowedTurns(s)
		want := n
		if want > window {
			want = window
		}
		if len(got) != want {
			t.Fatalf("after %d turns: windowed %d, want %d", n, len(got), want)
		}
		// Most recent turns, in chronological order.
		for i := range got {
			expect := fmt.Sprintf("message %d", n-want+1+i)
			if got[i].Content != expect {
				t.Errorf("after %d turns: windowed[%d] = %q, want %q", n, i, got[i].Content, expect)
			}
		}
	}
}

func TestManagerCachesSessions(t *testing.T) {
	m := newTestManager(t, 8)
	userID := uuid.New()
	charID := uuid.New()

	s1 := m.GetOrCreate(userID, charID)
	s1.Append(RoleUser, "hi")
	s2 := m.GetOrCreate(userID, charID)
	if s1 != s2 {
		t.Fatal("GetOrCreate returned a different session for the same pair")
	}
}

func TestManagerLoadsDurableStateOnce(t *testing.T) {
	st := NewStore(t.TempDir(), func(uuid.UUID) int { return 1 }, testLogger())
	userID := uuid.New()
	charID := uuid.New()

	seed := NewSession(userID, charID)
	seed.Append(RoleUser, "earlier question")
	st.Save(seed)

	m := NewManager(st, 8, testLogger())
	s := m.GetOrCreate(userID, charID)
	if s.Len() != 1 {
		t.Fatalf("restored %d turns, want 1", s.Len())
	}
	if s.Turns()[0].Content != "earlier question" {
		t.Errorf("restored content = %q", s.Turns()[0].Content)
	}
}

func TestManagerActivePointer(t *testing.T) {
	m := newTestManager(t, 8)
	userID := uuid.New()
	charA := uuid.New()
	charB := uuid.New()

	if _, ok := m.ActiveCharacter(userID); ok {
		t.Fatal("new user should have no active character")
	}

	m.GetOrCreate(userID, charA)
	if got, _ := m.ActiveCharacter(userID); got != charA {
		t.Errorf("active = %s, want %s", got, charA)
	}

	// Talking to a second character replaces the pointer.
	m.GetOrCreate(userID, charB)
	if got, _ := m.ActiveCharacter(userID); got != charB {
		t.Errorf("active = %s, want %s", got, charB)
	}
}

func TestManagerEndForUserKeepsDurableHistory(t *testing.T) {
	st := NewStore(t.TempDir(), func(uuid.UUID) int { return 1 }, testLogger())
	m := NewManager(st, 8, testLogger())
	userID := uuid.New()
	charID := uuid.New()

	s := m.GetOrCreate(userID, charID)
	s.Append(RoleUser, "remember me")
	m.Save(s)

	if !m.EndForUser(userID) {
		t.Error("EndForUser should report the active session")
	}
	if _, ok := m.ActiveCharacter(userID); ok {
		t.Error("active pointer survived EndForUser")
	}
	if m.EndForUser(userID) {
		t.Error("EndForUser with nothing active reported a session")
	}

	// Walking back up resumes from disk.
	resumed := m.GetOrCreate(userID, charID)
	if resumed.Len() != 1 {
		t.Fatalf("resumed session has %d turns, want 1", resumed.Len())
	}
}

func TestManagerClearForUser(t *testing.T) {
	m := newTestManager(t, 8)
	userID := uuid.New()
	charID := uuid.New()

	if m.ClearForUser(userID, charID) {
		t.Error("clearing with no history reported something existed")
	}

	s := m.GetOrCreate(userID, charID)
	s.Append(RoleUser, "hi")
	m.Save(s)

	if !m.ClearForUser(userID, charID) {
		t.Error("clear should report the session existed")
	}
	if _, ok := m.ActiveCharacter(userID); ok {
		t.Error("active pointer survived ClearForUser")
	}
	if fresh := m.GetOrCreate(userID, charID); fresh.Len() != 0 {
		t.Errorf("session after clear has %d turns, want 0", fresh.Len())
	}
}

func TestManagerClearForUserDropsResolvedVariables(t *testing.T) {
	m := newTestManager(t, 8)
	userID := uuid.New()
	charID := uuid.New()

	s := m.GetOrCreate(userID, charID)
	s.SetVariable("secret", "42")
	m.Save(s)

	m.ClearForUser(userID, charID)
	fresh := m.GetOrCreate(userID, charID)
	if fresh.HasVariable("secret") {
		t.Error("resolved variable survived a full clear")
	}
}

func TestManagerClearAllForCharacter(t *testing.T) {
	m := newTestManager(t, 8)
	charID := uuid.New()
	userA := uuid.New()
	userB := uuid.New()

	for _, u := range []uuid.UUID{userA, userB} {
		s := m.GetOrCreate(u, charID)
		s.Append(RoleUser, "hi")
		m.Save(s)
	}

	m.ClearAllForCharacter(charID)

	for _, u := range []uuid.UUID{userA, userB} {
		if _, ok := m.ActiveCharacter(u); ok {
			t.Errorf("user %s still has an active pointer", u)
		}
		if s := m.GetOrCreate(u, charID); s.Len() != 0 {
			t.Errorf("user %s still has %d turns", u, s.Len())
		}
	}
}
