package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/scivid/scivid/internal/document"
	"github.com/scivid/scivid/internal/gemini"
	"github.com/scivid/scivid/internal/media"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/script"
	"github.com/scivid/scivid/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	st, err := session.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	s, err := st.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return s
}

func writePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paper.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n%%EOF\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testScript(motions ...script.MotionIntensity) *script.Script {
	s := &script.Script{Title: "Tiny Motors", ScientificField: "Biophysics", Style: script.StyleCinematic}
	for i, m := range motions {
		s.Scenes = append(s.Scenes, script.Scene{
			ID:                i + 1,
			Voiceover:         fmt.Sprintf("voiceover %d", i+1),
			VisualDescription: fmt.Sprintf("visual %d", i+1),
			MotionIntensity:   m,
		})
	}
	return s
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) fn() progress.Func {
	return func(e progress.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	}
}

func (r *recorder) last() progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// --- script stage ---

type fakeScripter struct {
	calls    atomic.Int32
	response string
	err      error
	gotStyle string
}

func (f *fakeScripter) GenerateScript(ctx context.Context, pdfPath, displayName, systemInstruction string, schema map[string]any) (string, error) {
	f.calls.Add(1)
	f.gotStyle = systemInstruction
	if schema == nil {
		return "", errors.New("schema missing")
	}
	return f.response, f.err
}

func TestScriptStage_Run(t *testing.T) {
	raw, _ := json.Marshal(testScript(script.MotionLow, script.MotionHigh))
	fake := &fakeScripter{response: string(raw)}
	stage := NewScriptStage(fake, testLogger())
	rec := &recorder{}

	sc, err := stage.Run(context.Background(), writePDF(t), "", script.StyleMinimalist, rec.fn())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sc.Style != script.StyleMinimalist || len(sc.Scenes) != 2 {
		t.Errorf("unexpected script: %+v", sc)
	}
	if !strings.Contains(fake.gotStyle, script.StyleMinimalist.Guide()) {
		t.Error("system instruction should carry the style guide")
	}
	if rec.last().Progress != 100 {
		t.Errorf("last progress = %d, want 100", rec.last().Progress)
	}
}

func TestScriptStage_MissingDocument(t *testing.T) {
	fake := &fakeScripter{}
	stage := NewScriptStage(fake, testLogger())

	_, err := stage.Run(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"), "", script.StyleAcademic, nil)
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("Run() error = %v, want ErrNotFound", err)
	}
	if fake.calls.Load() != 0 {
		t.Error("model must not be called for a missing document")
	}
}

func TestScriptStage_InvalidResponse(t *testing.T) {
	stage := NewScriptStage(&fakeScripter{response: `{"title":"","scenes":[]}`}, testLogger())
	_, err := stage.Run(context.Background(), writePDF(t), "", script.StyleAcademic, nil)
	var verr *script.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Run() error = %v, want ValidationError", err)
	}

	stage = NewScriptStage(&fakeScripter{err: errors.New("quota exceeded")}, testLogger())
	if _, err := stage.Run(context.Background(), writePDF(t), "", script.StyleAcademic, nil); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("Run() error = %v, want wrapped model error", err)
	}
}

// --- image stage ---

type fakeImageGen struct {
	calls   atomic.Int32
	prompts []string
	failOn  map[int]bool
}

func (f *fakeImageGen) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	n := int(f.calls.Add(1))
	f.prompts = append(f.prompts, prompt)
	if f.failOn[n] {
		return nil, "", errors.New("safety filter")
	}
	return []byte{0x89, 'P', 'N', 'G'}, "image/png", nil
}

func TestImageStage_AnchorsFirstAndLowMotion(t *testing.T) {
	sess := newSession(t)
	gen := &fakeImageGen{}
	stage := NewImageStage(gen, testLogger())

	sc := testScript(script.MotionHigh, script.MotionMedium, script.MotionLow, script.MotionHigh)
	swi, err := stage.Run(context.Background(), sess, sc, "", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantAnchors := []bool{true, false, true, false}
	for i, s := range swi.Scenes {
		if s.HasAnchor() != wantAnchors[i] {
			t.Errorf("scene %d anchor = %v, want %v", s.ID, s.HasAnchor(), wantAnchors[i])
		}
	}
	if gen.calls.Load() != 2 {
		t.Errorf("image calls = %d, want 2", gen.calls.Load())
	}
	if !strings.HasPrefix(gen.prompts[0], script.StyleCinematic.ImagePrompt()) {
		t.Errorf("prompt should start with style fragment: %q", gen.prompts[0])
	}

	path := *swi.Scenes[2].ImagePath
	if path != sess.ImagePath(3) {
		t.Errorf("image path = %s, want %s", path, sess.ImagePath(3))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("image not written: %v", err)
	}
	if !strings.HasPrefix(*swi.Scenes[0].ImageBase64, "data:image/png;base64,") {
		t.Errorf("image_base64 should be a data URL: %q", *swi.Scenes[0].ImageBase64)
	}
}

func TestImageStage_FailureLeavesNullImage(t *testing.T) {
	sess := newSession(t)
	gen := &fakeImageGen{failOn: map[int]bool{2: true}}
	stage := NewImageStage(gen, testLogger())

	sc := testScript(script.MotionLow, script.MotionLow, script.MotionHigh)
	swi, err := stage.Run(context.Background(), sess, sc, script.StyleAnime, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if swi.Style != script.StyleAnime {
		t.Errorf("style override not applied: %q", swi.Style)
	}
	if swi.Scenes[1].ImagePath != nil || swi.Scenes[1].ImageBase64 != nil {
		t.Error("failed image should leave both fields nil")
	}

	groups, err := GroupScenes(swi.Scenes)
	if err != nil || len(groups) != 1 || len(groups[0].Scenes) != 3 {
		t.Errorf("failed anchor should fold scene into previous group: %v, %v", groups, err)
	}
}

func TestImageStage_ContextCancelled(t *testing.T) {
	sess := newSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stage := NewImageStage(&cancelImageGen{}, testLogger())
	if _, err := stage.Run(ctx, sess, testScript(script.MotionLow), "", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

type cancelImageGen struct{}

func (cancelImageGen) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	return nil, "", ctx.Err()
}

// --- video stage ---

type fakeVideoGen struct {
	mu        sync.Mutex
	log       []string
	seedErr   error
	extendErr error
	counter   int
}

func (f *fakeVideoGen) GenerateFromImage(ctx context.Context, prompt string, image []byte, mime string) (*gemini.Clip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(image) == 0 {
		return nil, errors.New("no image bytes")
	}
	f.log = append(f.log, "seed:"+firstLine(prompt))
	if f.seedErr != nil {
		return nil, f.seedErr
	}
	f.counter++
	return &gemini.Clip{URI: fmt.Sprintf("uri-%d", f.counter)}, nil
}

func (f *fakeVideoGen) ExtendVideo(ctx context.Context, prompt string, prev *gemini.Clip) (*gemini.Clip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, "extend:"+firstLine(prompt)+"<-"+prev.URI)
	if f.extendErr != nil {
		return nil, f.extendErr
	}
	f.counter++
	return &gemini.Clip{URI: fmt.Sprintf("uri-%d", f.counter)}, nil
}

func (f *fakeVideoGen) Download(ctx context.Context, clip *gemini.Clip, dest string) error {
	f.mu.Lock()
	f.log = append(f.log, "download:"+clip.URI+"->"+filepath.Base(dest))
	f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(clip.URI), 0644)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func newVideoStage(gen VideoGenerator) *VideoStage {
	stage := NewVideoStage(gen, testLogger())
	stage.SeedSettle = 0
	stage.ExtendSettle = 0
	return stage
}

func TestVideoStage_SeedAndExtend(t *testing.T) {
	sess := newSession(t)
	gen := &fakeVideoGen{}
	stage := newVideoStage(gen)
	rec := &recorder{}

	swi := &script.ScriptWithImages{Title: "T", ScientificField: "F", Style: script.StyleAcademic}
	for _, s := range []script.ImageScene{anchored(1), plain(2), plain(3), anchored(4), plain(5)} {
		s.VisualDescription = fmt.Sprintf("visual %d", s.ID)
		swi.Scenes = append(swi.Scenes, s)
	}

	final, err := stage.Run(context.Background(), sess, swi, rec.fn())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantLog := []string{
		"seed:visual 1",
		"extend:visual 2<-uri-1",
		"extend:visual 3<-uri-2",
		"download:uri-3->video_3.mp4",
		"seed:visual 4",
		"extend:visual 5<-uri-4",
		"download:uri-5->video_5.mp4",
	}
	if !slices.Equal(gen.log, wantLog) {
		t.Errorf("call log:\n%v\nwant:\n%v", gen.log, wantLog)
	}

	if len(final.VideoGroups) != 2 {
		t.Fatalf("groups = %d, want 2", len(final.VideoGroups))
	}
	g0 := final.VideoGroups[0]
	if g0.StartSceneID != 1 || g0.EndSceneID != 3 || !slices.Equal(g0.SceneIDs, []int{1, 2, 3}) {
		t.Errorf("group 0 = %+v", g0)
	}
	for i, g := range final.VideoGroups {
		if g.VideoIndex != i+1 {
			t.Errorf("group %d videoIndex = %d, want %d", i, g.VideoIndex, i+1)
		}
	}
	if !slices.Equal(final.VideoPaths, []string{sess.VideoPath(3), sess.VideoPath(5)}) {
		t.Errorf("video paths = %v", final.VideoPaths)
	}

	if len(final.Scenes) != 5 {
		t.Fatalf("scenes = %d, want 5", len(final.Scenes))
	}
	for i, sc := range final.Scenes {
		if sc.ID != i+1 {
			t.Errorf("scenes not sorted by id: %d at %d", sc.ID, i)
		}
	}
	if final.Scenes[1].VideoPath != sess.VideoPath(3) || final.Scenes[1].VideoURI != "uri-3" {
		t.Errorf("scene 2 video = %s %s", final.Scenes[1].VideoPath, final.Scenes[1].VideoURI)
	}
	if rec.last().Progress != 100 {
		t.Errorf("last progress = %d", rec.last().Progress)
	}
}

func TestVideoStage_NoAnchorFailsBeforeAnyCall(t *testing.T) {
	sess := newSession(t)
	gen := &fakeVideoGen{}
	stage := newVideoStage(gen)

	swi := &script.ScriptWithImages{Scenes: []script.ImageScene{plain(1), anchored(2)}}
	_, err := stage.Run(context.Background(), sess, swi, nil)
	if !errors.Is(err, ErrNoAnchor) {
		t.Fatalf("Run() error = %v, want ErrNoAnchor", err)
	}
	if len(gen.log) != 0 {
		t.Errorf("no remote call expected, got %v", gen.log)
	}
}

func TestVideoStage_ExtendFailureAborts(t *testing.T) {
	sess := newSession(t)
	gen := &fakeVideoGen{extendErr: errors.New("operation failed")}
	stage := newVideoStage(gen)

	swi := &script.ScriptWithImages{Scenes: []script.ImageScene{anchored(1), plain(2), anchored(3)}}
	_, err := stage.Run(context.Background(), sess, swi, nil)
	if err == nil || !strings.Contains(err.Error(), "scene 2") {
		t.Fatalf("Run() error = %v, want failure naming scene 2", err)
	}
	for _, entry := range gen.log {
		if strings.HasPrefix(entry, "download") || strings.Contains(entry, "visual 3") {
			t.Errorf("stage continued after failure: %v", gen.log)
		}
	}
}

func TestVideoStage_SettleHonoursContext(t *testing.T) {
	sess := newSession(t)
	stage := NewVideoStage(&fakeVideoGen{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	swi := &script.ScriptWithImages{Scenes: []script.ImageScene{anchored(1), plain(2)}}
	if _, err := stage.Run(ctx, sess, swi, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

// --- concat stage ---

type fakeFFmpeg struct {
	concatCalls atomic.Int32
	thumbCalls  atomic.Int32
	list        string
	exitCode    int
	probe       *media.ProbeResult
}

func (f *fakeFFmpeg) Concat(ctx context.Context, listPath, outPath string) (media.RunResult, error) {
	f.concatCalls.Add(1)
	data, _ := os.ReadFile(listPath)
	f.list = string(data)
	if f.exitCode != 0 {
		return media.RunResult{ExitCode: f.exitCode, StderrTail: "Invalid data found"}, nil
	}
	os.WriteFile(outPath, make([]byte, 3*1024*1024), 0644)
	return media.RunResult{OutputPath: outPath}, nil
}

func (f *fakeFFmpeg) Probe(ctx context.Context, path string) (*media.ProbeResult, error) {
	if f.probe == nil {
		return nil, errors.New("ffprobe not installed")
	}
	return f.probe, nil
}

func (f *fakeFFmpeg) GenerateThumbnail(ctx context.Context, path, outPath string, offset float64) (media.RunResult, error) {
	f.thumbCalls.Add(1)
	return media.RunResult{OutputPath: outPath}, nil
}

func writeClips(t *testing.T, sess *session.Session, ids ...int) []string {
	t.Helper()
	var paths []string
	for _, id := range ids {
		p := sess.VideoPath(id)
		if err := os.WriteFile(p, []byte("mp4"), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestSelectVideoPaths(t *testing.T) {
	withPaths := &script.FinalOutput{VideoPaths: []string{"a.mp4", "blob:http://x", "", "b.mp4"}}
	if got := SelectVideoPaths(withPaths); !slices.Equal(got, []string{"a.mp4", "b.mp4"}) {
		t.Errorf("SelectVideoPaths(videoPaths) = %v", got)
	}

	fromScenes := &script.FinalOutput{Scenes: []script.VideoScene{
		{VideoPath: "a.mp4"}, {VideoPath: "a.mp4"}, {VideoPath: "blob:x"}, {VideoPath: "b.mp4"},
	}}
	if got := SelectVideoPaths(fromScenes); !slices.Equal(got, []string{"a.mp4", "b.mp4"}) {
		t.Errorf("SelectVideoPaths(scenes) = %v", got)
	}
}

func TestConcatList_Quotes(t *testing.T) {
	got := ConcatList([]string{"/a/one.mp4", "/b/it's.mp4"})
	want := "file '/a/one.mp4'\nfile '/b/it'\\''s.mp4'\n"
	if got != want {
		t.Errorf("ConcatList() = %q, want %q", got, want)
	}
}

func TestConcatStage_MultipleClips(t *testing.T) {
	sess := newSession(t)
	paths := writeClips(t, sess, 3, 5)
	ff := &fakeFFmpeg{}
	stage := NewConcatStage(ff, testLogger())

	res, err := stage.Run(context.Background(), sess, &script.FinalOutput{VideoPaths: paths}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.OutputPath != sess.Path(session.FinalVideoFile) {
		t.Errorf("OutputPath = %s", res.OutputPath)
	}
	if res.FileSize != "3.00 MB" {
		t.Errorf("FileSize = %s, want 3.00 MB", res.FileSize)
	}
	if res.Duration != "~16s" {
		t.Errorf("Duration = %s, want ~16s estimate", res.Duration)
	}
	if !strings.Contains(ff.list, "file '"+paths[0]+"'\nfile '"+paths[1]+"'") {
		t.Errorf("concat list = %q", ff.list)
	}
	if _, err := os.Stat(filepath.Join(sess.Path(session.TempDir), "concat_list.txt")); !os.IsNotExist(err) {
		t.Error("concat list should be removed after run")
	}
	if ff.thumbCalls.Load() != 1 {
		t.Errorf("thumbnail calls = %d, want 1", ff.thumbCalls.Load())
	}
}

func TestConcatStage_SingleClipPassthrough(t *testing.T) {
	sess := newSession(t)
	paths := writeClips(t, sess, 4)
	ff := &fakeFFmpeg{probe: &media.ProbeResult{Duration: 7.5}}
	stage := NewConcatStage(ff, testLogger())

	res, err := stage.Run(context.Background(), sess, &script.FinalOutput{VideoPaths: paths}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.OutputPath != paths[0] {
		t.Errorf("OutputPath = %s, want %s", res.OutputPath, paths[0])
	}
	if res.Duration != "7.5s" {
		t.Errorf("Duration = %s, want 7.5s", res.Duration)
	}
	if ff.concatCalls.Load() != 0 {
		t.Error("single clip should not be concatenated")
	}
}

func TestConcatStage_Errors(t *testing.T) {
	sess := newSession(t)
	stage := NewConcatStage(&fakeFFmpeg{}, testLogger())

	if _, err := stage.Run(context.Background(), sess, &script.FinalOutput{VideoPaths: []string{"blob:x"}}, nil); !errors.Is(err, ErrNoVideos) {
		t.Errorf("blob-only error = %v, want ErrNoVideos", err)
	}

	missing := []string{sess.VideoPath(1), sess.VideoPath(2)}
	if _, err := stage.Run(context.Background(), sess, &script.FinalOutput{VideoPaths: missing}, nil); err == nil {
		t.Error("missing clip should fail")
	}

	paths := writeClips(t, sess, 1, 2)
	failing := NewConcatStage(&fakeFFmpeg{exitCode: 1}, testLogger())
	_, err := failing.Run(context.Background(), sess, &script.FinalOutput{VideoPaths: paths}, nil)
	if err == nil || !strings.Contains(err.Error(), "Invalid data found") {
		t.Errorf("ffmpeg failure error = %v", err)
	}
}
