package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newFileBackend(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	backend, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return backend, path
}

func TestStoreStartsWithDefaultSession(t *testing.T) {
	t.Parallel()

	backend, _ := newFileBackend(t)
	store, err := NewStore(backend, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	active := store.Active()
	if active == nil {
		t.Fatal("fresh store has no active session")
	}
	if active.Title != DefaultTitle {
		t.Errorf("title = %q, want default", active.Title)
	}
	if got := len(store.List()); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	backend, path := newFileBackend(t)
	store, err := NewStore(backend, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	active := store.Active()
	active.AppendMessage(Message{Role: RoleUser, Content: "第一条消息"})
	active.DeriveTitle("第一条消息")
	second := store.Create()
	second.AppendMessage(Message{Role: RoleUser, Content: "另一个会话"})

	if err := store.Persist(context.Background()); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file missing: %v", err)
	}

	backend2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore reopen: %v", err)
	}
	reloaded, err := NewStore(backend2, nil)
	if err != nil {
		t.Fatalf("NewStore reload: %v", err)
	}
	defer reloaded.Close()

	if got := len(reloaded.List()); got != 2 {
		t.Fatalf("sessions after reload = %d, want 2", got)
	}
	if reloaded.Active().ID != second.ID {
		t.Errorf("active = %q, want %q", reloaded.Active().ID, second.ID)
	}
	first := reloaded.Get(active.ID)
	if first == nil {
		t.Fatal("first session lost on reload")
	}
	if first.Title != "第一条消息" {
		t.Errorf("title = %q", first.Title)
	}
	if len(first.Messages) != 1 || first.Messages[0].Content != "第一条消息" {
		t.Errorf("messages = %+v", first.Messages)
	}
}

func TestStoreCapsHistory(t *testing.T) {
	t.Parallel()

	backend, _ := newFileBackend(t)
	store, err := NewStore(backend, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	for i := 0; i < MaxChatHistory+5; i++ {
		s := store.Create()
		s.AppendMessage(Message{Role: RoleUser, Content: "x"})
	}
	if err := store.Persist(context.Background()); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	state, err := backend.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state.Sessions) != MaxChatHistory {
		t.Fatalf("persisted sessions = %d, want %d", len(state.Sessions), MaxChatHistory)
	}
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	backend, _ := newFileBackend(t)
	store, err := NewStore(backend, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	first := store.Active()
	second := store.Create()

	// Deleting the active session promotes the first remaining one.
	store.Delete(second.ID)
	if store.Active().ID != first.ID {
		t.Errorf("active = %q, want %q", store.Active().ID, first.ID)
	}

	// Deleting the last session resets to a fresh default.
	store.Delete(first.ID)
	active := store.Active()
	if active == nil || active.ID == first.ID {
		t.Fatal("deleting the last session should create a fresh one")
	}
	if len(store.List()) != 1 {
		t.Errorf("sessions = %d, want 1", len(store.List()))
	}
}

func TestStoreSetActive(t *testing.T) {
	t.Parallel()

	backend, _ := newFileBackend(t)
	store, err := NewStore(backend, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	first := store.Active()
	store.Create()

	if !store.SetActive(first.ID) {
		t.Fatal("SetActive on a known id should succeed")
	}
	if store.Active().ID != first.ID {
		t.Errorf("active = %q, want %q", store.Active().ID, first.ID)
	}
	if store.SetActive("no-such-id") {
		t.Fatal("SetActive on an unknown id should fail")
	}
	if store.Active().ID != first.ID {
		t.Error("failed SetActive must not change the active session")
	}
}

func TestStoreLoadOrdersByRecency(t *testing.T) {
	t.Parallel()

	backend, _ := newFileBackend(t)
	old := New()
	old.Title = "older"
	old.Messages = []Message{{Role: RoleUser, Content: "a"}}
	old.UpdatedAt = time.Now().Add(-time.Hour)
	fresh := New()
	fresh.Title = "fresher"
	fresh.Messages = []Message{{Role: RoleUser, Content: "b"}}

	if err := backend.Save(&State{Sessions: []*Session{old, fresh}, ActiveSessionID: "stale-id"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	store, err := NewStore(backend, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	list := store.List()
	if len(list) != 2 || list[0].Title != "fresher" {
		t.Fatalf("list order = %v", []string{list[0].Title, list[1].Title})
	}
	// Stale active id heals to the most recent session.
	if store.Active().Title != "fresher" {
		t.Errorf("active = %q, want fresher", store.Active().Title)
	}
}
