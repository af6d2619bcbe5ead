package character

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeProfile(t *testing.T, dir string, p *Profile) string {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, p.ID.String()+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRegistryLoadAssignsDisplayIDs(t *testing.T) {
	dir := t.TempDir()
	a := &Profile{ID: uuid.New(), Name: "Alpha"}
	b := &Profile{ID: uuid.New(), Name: "Beta", DisplayID: 5}
	writeProfile(t, dir, a)
	writeProfile(t, dir, b)

	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	gotA, ok := r.Get(a.ID)
	if !ok {
		t.Fatal("profile A missing")
	}
	if gotA.DisplayID <= 0 {
		t.Errorf("A was not assigned a display ID")
	}
	gotB, _ := r.Get(b.ID)
	if gotB.DisplayID != 5 {
		t.Errorf("B display ID = %d, want its claimed 5", gotB.DisplayID)
	}
	if gotA.DisplayID == gotB.DisplayID {
		t.Error("display ID collision")
	}

	// Assignment must be durable: a fresh load sees the same IDs.
	r2 := NewRegistry(dir, testLogger())
	if err := r2.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	again, ok := r2.Get(a.ID)
	if !ok {
		t.Fatal("profile A missing after reload")
	}
	if again.DisplayID != gotA.DisplayID {
		t.Errorf("display ID changed across reloads: %d -> %d", gotA.DisplayID, again.DisplayID)
	}
}

func TestRegistryDisplayIDCollision(t *testing.T) {
	dir := t.TempDir()
	a := &Profile{ID: uuid.New(), Name: "Alpha", DisplayID: 3}
	b := &Profile{ID: uuid.New(), Name: "Beta", DisplayID: 3}
	writeProfile(t, dir, a)
	writeProfile(t, dir, b)

	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	gotA, _ := r.Get(a.ID)
	gotB, _ := r.Get(b.ID)
	if gotA.DisplayID == gotB.DisplayID {
		t.Fatalf("both profiles carry display ID %d", gotA.DisplayID)
	}
}

func TestRegistrySkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	good := &Profile{ID: uuid.New(), Name: "Good"}
	writeProfile(t, dir, good)
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "noid.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(r.All()) != 1 {
		t.Errorf("loaded %d profiles, want 1", len(r.All()))
	}
}

func TestRegistryRegisterPersistsSlugFile(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	p := &Profile{ID: uuid.New(), Name: "Old Marta the Herbalist!"}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := filepath.Join(dir, fmt.Sprintf("%05d_%s.json", p.DisplayID, "old_marta_the_herbalist"))
	if _, err := os.Stat(want); err != nil {
		entries, _ := os.ReadDir(dir)
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected %s, dir has %v", want, names)
	}
}

func TestRegistryRenameRemovesStaleFile(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	p := &Profile{ID: uuid.New(), Name: "First Name"}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	p.Name = "Second Name"
	if err := r.Register(p); err != nil {
		t.Fatalf("Register rename: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir has %v, want one file", names)
	}
}

func TestRegistryRemove(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	p := &Profile{ID: uuid.New(), Name: "Doomed"}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Remove(p.ID)

	if _, ok := r.Get(p.ID); ok {
		t.Error("profile still present after Remove")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("backing file not deleted")
	}
}

func TestRegistryLookups(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	marta := &Profile{ID: uuid.New(), Name: "Old Marta"}
	galen := &Profile{ID: uuid.New(), Name: "Galen"}
	for _, p := range []*Profile{marta, galen} {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	if p, ok := r.GetByDisplayID(marta.DisplayID); !ok || p.ID != marta.ID {
		t.Errorf("GetByDisplayID(%d) = %v, %v", marta.DisplayID, p, ok)
	}
	if got := r.DisplayID(galen.ID); got != galen.DisplayID {
		t.Errorf("DisplayID = %d", got)
	}
	if got := r.DisplayID(uuid.New()); got != 0 {
		t.Errorf("DisplayID for unknown = %d, want 0", got)
	}
	if found := r.FindByName("marta"); len(found) != 1 || found[0].ID != marta.ID {
		t.Errorf("FindByName(marta) = %v", found)
	}

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All returned %d profiles", len(all))
	}
	if all[0].DisplayID > all[1].DisplayID {
		t.Error("All not sorted by display ID")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Old Marta", "old_marta"},
		{"  Galen  ", "galen"},
		{"Éowyn the White", "owyn_the_white"},
		{"!!!", "character"},
		{"", "character"},
		{"a--b__c", "a--b_c"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSuccessBehaviorShouldReset(t *testing.T) {
	yes, no := true, false

	var nilBehavior *SuccessBehavior
	if !nilBehavior.ShouldReset() {
		t.Error("nil behavior should default to reset")
	}
	if !(&SuccessBehavior{}).ShouldReset() {
		t.Error("empty behavior should default to reset")
	}
	if (&SuccessBehavior{ContinueConversation: &yes}).ShouldReset() {
		t.Error("continueConversation=true should not reset")
	}
	if !(&SuccessBehavior{ContinueConversation: &no}).ShouldReset() {
		t.Error("continueConversation=false should reset")
	}
	// Legacy flag applies only when the modern one is absent.
	if (&SuccessBehavior{ResetConversation: &no}).ShouldReset() {
		t.Error("legacy resetConversation=false should not reset")
	}
	if (&SuccessBehavior{ContinueConversation: &yes, ResetConversation: &yes}).ShouldReset() {
		t.Error("modern flag should win over legacy")
	}
}
