package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scivid/scivid/internal/script"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return st
}

func TestCreate_Layout(t *testing.T) {
	st := newTestStore(t)
	s, err := st.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := ValidateID(s.ID); err != nil {
		t.Fatalf("generated id %q invalid: %v", s.ID, err)
	}
	parts := strings.Split(strings.TrimPrefix(s.ID, "session_"), "_")
	if len(parts) != 2 || len(parts[1]) != 9 {
		t.Errorf("id %q should be session_<ms>_<9 chars>", s.ID)
	}
	for _, dir := range []string{ImagesDir, VideosDir, TempDir} {
		if info, err := os.Stat(s.Path(dir)); err != nil || !info.IsDir() {
			t.Errorf("%s missing: %v", dir, err)
		}
	}
	if s.ImagePath(3) != filepath.Join(s.Dir, "images", "scene_3.png") {
		t.Errorf("ImagePath(3) = %s", s.ImagePath(3))
	}
	if s.VideoPath(7) != filepath.Join(s.Dir, "videos", "video_7.mp4") {
		t.Errorf("VideoPath(7) = %s", s.VideoPath(7))
	}
	if s.PublicPath() != "/output/"+s.ID {
		t.Errorf("PublicPath() = %s", s.PublicPath())
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{"session_1700000000000_abc123def"}
	invalid := []string{"", "session_", "other_123", "session_../etc", "session_1/2", `session_1\2`}

	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v", id, err)
		}
	}
	for _, id := range invalid {
		if err := ValidateID(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("ValidateID(%q) = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestJSONRoundTripAndStage(t *testing.T) {
	st := newTestStore(t)
	s, _ := st.Create()

	if s.CompletedStage() != "" {
		t.Fatalf("fresh session stage = %q", s.CompletedStage())
	}

	var missing script.Script
	if err := s.LoadJSON(ScriptFile, &missing); !errors.Is(err, ErrMissingInput) {
		t.Fatalf("LoadJSON(missing) error = %v, want ErrMissingInput", err)
	}

	in := &script.Script{Title: "T", ScientificField: "F", Style: script.StyleAnime}
	if err := s.SaveJSON(ScriptFile, in); err != nil {
		t.Fatalf("SaveJSON() error = %v", err)
	}
	var out script.Script
	if err := s.LoadJSON(ScriptFile, &out); err != nil {
		t.Fatalf("LoadJSON() error = %v", err)
	}
	if out.Title != "T" || out.Style != script.StyleAnime {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if s.CompletedStage() != "script" {
		t.Errorf("stage = %q, want script", s.CompletedStage())
	}

	s.SaveJSON(FinalOutputFile, map[string]string{})
	if s.CompletedStage() != "videos" {
		t.Errorf("stage = %q, want videos", s.CompletedStage())
	}
}

func TestWritePreview(t *testing.T) {
	st := newTestStore(t)
	s, _ := st.Create()

	b64 := "data:image/png;base64,AAAA"
	path := "/x/scene_1.png"
	swi := &script.ScriptWithImages{
		Title: "T",
		Scenes: []script.ImageScene{
			{Scene: script.Scene{ID: 1}, ImagePath: &path, ImageBase64: &b64},
			{Scene: script.Scene{ID: 2}},
		},
	}
	if err := s.WritePreview(swi); err != nil {
		t.Fatalf("WritePreview() error = %v", err)
	}
	if *swi.Scenes[0].ImageBase64 != b64 {
		t.Fatal("WritePreview() modified its input")
	}

	raw, err := os.ReadFile(s.Path(PreviewFile))
	if err != nil {
		t.Fatal(err)
	}
	var preview map[string]any
	json.Unmarshal(raw, &preview)
	scenes := preview["scenes"].([]any)
	if got := scenes[0].(map[string]any)["image_base64"]; got != base64Placeholder {
		t.Errorf("image_base64 = %v, want placeholder", got)
	}
	if got := scenes[1].(map[string]any)["image_base64"]; got != nil {
		t.Errorf("missing image should stay null, got %v", got)
	}
}

func TestOpenListRemove(t *testing.T) {
	st := newTestStore(t)

	base := time.UnixMilli(1_700_000_000_000)
	st.now = func() time.Time { return base }
	older, _ := st.Create()
	st.now = func() time.Time { return base.Add(time.Minute) }
	newer, _ := st.Create()

	if _, err := st.Open("session_999_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := st.Open("../etc"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Open(traversal) error = %v, want ErrInvalidID", err)
	}

	opened, err := st.Open(older.ID)
	if err != nil || !opened.CreatedAt.Equal(base) {
		t.Fatalf("Open() = %+v, %v", opened, err)
	}

	list, err := st.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID {
		t.Fatalf("List() order wrong: %v", list)
	}

	if err := st.Remove(older.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if list, _ := st.List(); len(list) != 1 {
		t.Errorf("List() after remove = %d sessions, want 1", len(list))
	}
}

func TestPrune(t *testing.T) {
	st := newTestStore(t)

	base := time.UnixMilli(1_700_000_000_000)
	st.now = func() time.Time { return base }
	old, _ := st.Create()
	st.now = func() time.Time { return base.Add(48 * time.Hour) }
	fresh, _ := st.Create()

	if removed, _ := st.Prune(0); len(removed) != 0 {
		t.Fatalf("Prune(0) removed %v", removed)
	}

	removed, err := st.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(removed) != 1 || removed[0] != old.ID {
		t.Fatalf("Prune() removed %v, want [%s]", removed, old.ID)
	}
	if _, err := st.Open(fresh.ID); err != nil {
		t.Errorf("fresh session pruned: %v", err)
	}
}

func TestNewPruner_InvalidSpec(t *testing.T) {
	st := newTestStore(t)
	if _, err := NewPruner(st, "not a schedule", time.Hour); err == nil {
		t.Fatal("NewPruner() with invalid schedule should fail")
	}
	p, err := NewPruner(st, "@hourly", time.Hour)
	if err != nil {
		t.Fatalf("NewPruner() error = %v", err)
	}
	p.Start()
	p.Stop()
}

func TestClearAfter(t *testing.T) {
	all := []string{
		ScriptFile, ScriptWithImagesFile, PreviewFile, FinalOutputFile,
		ConcatResultFile, FinalVideoFile, PosterFile, TimelineFile,
	}
	tests := []struct {
		stage string
		kept  int
	}{
		{"script", 1},
		{"images", 3},
		{"videos", 4},
		{"concat", len(all)},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			s, err := newTestStore(t).Create()
			if err != nil {
				t.Fatal(err)
			}
			for _, name := range all {
				if err := os.WriteFile(s.Path(name), []byte("x"), 0644); err != nil {
					t.Fatal(err)
				}
			}

			if err := s.ClearAfter(tt.stage); err != nil {
				t.Fatalf("ClearAfter(%s) error = %v", tt.stage, err)
			}
			for i, name := range all {
				if want := i < tt.kept; s.Has(name) != want {
					t.Errorf("Has(%s) = %v, want %v", name, !want, want)
				}
			}
			if got := s.CompletedStage(); got != tt.stage {
				t.Errorf("CompletedStage() = %q, want %q", got, tt.stage)
			}
		})
	}

	s, _ := newTestStore(t).Create()
	if err := s.ClearAfter("upload"); err == nil {
		t.Error("ClearAfter(upload) should fail")
	}
}
