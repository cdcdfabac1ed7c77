package stages

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/scivid/scivid/internal/gemini"
	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/script"
	"github.com/scivid/scivid/internal/session"
)

const (
	DefaultSeedSettle   = 10 * time.Second
	DefaultExtendSettle = 5 * time.Second
)

// VideoStage renders each scene group into one video file.
type VideoStage struct {
	gen    VideoGenerator
	logger *slog.Logger

	// SeedSettle is waited after a group's first clip before extending it,
	// ExtendSettle before every extension.
	SeedSettle   time.Duration
	ExtendSettle time.Duration
}

func NewVideoStage(gen VideoGenerator, logger *slog.Logger) *VideoStage {
	return &VideoStage{
		gen:          gen,
		logger:       logging.WithStage(logging.OrDiscard(logger), StepVideos),
		SeedSettle:   DefaultSeedSettle,
		ExtendSettle: DefaultExtendSettle,
	}
}

// Run groups the scenes, renders every group in order and downloads each
// group's final clip to videos/video_{endSceneId}.mp4. The first failure
// aborts the stage.
func (v *VideoStage) Run(ctx context.Context, sess *session.Session, swi *script.ScriptWithImages, report progress.Func) (*script.FinalOutput, error) {
	groups, err := GroupScenes(swi.Scenes)
	if err != nil {
		return nil, err
	}
	v.logger.Info("video groups planned", "groups", len(groups), "scenes", len(swi.Scenes))

	out := &script.FinalOutput{
		Title:           swi.Title,
		ScientificField: swi.ScientificField,
		Style:           swi.Style,
	}

	total := len(swi.Scenes)
	done := 0
	for _, g := range groups {
		path := sess.VideoPath(g.EndID())
		clip, err := v.renderGroup(ctx, g, func(sceneID int) {
			done++
			report.Emit(progress.Event{
				Step:     StepVideos,
				Message:  fmt.Sprintf("Video %d/%d", g.Index+1, len(groups)),
				Progress: progress.Percent(done, total),
				Detail:   fmt.Sprintf("scene %d", sceneID),
			})
		})
		if err != nil {
			return nil, fmt.Errorf("video group %d: %w", g.Index, err)
		}

		if err := v.gen.Download(ctx, clip, path); err != nil {
			return nil, fmt.Errorf("video group %d: %w", g.Index, err)
		}

		for _, sc := range g.Scenes {
			out.Scenes = append(out.Scenes, script.VideoScene{ImageScene: sc, VideoPath: path, VideoURI: clip.URI})
		}
		out.VideoGroups = append(out.VideoGroups, script.VideoGroup{
			VideoIndex:   g.Index + 1,
			StartSceneID: g.StartID(),
			EndSceneID:   g.EndID(),
			SceneIDs:     g.SceneIDs(),
			VideoPath:    path,
		})
		out.VideoPaths = append(out.VideoPaths, path)
		v.logger.Info("video group rendered", "group", g.Index, "scenes", g.SceneIDs(), "path", path)
	}

	sort.SliceStable(out.Scenes, func(i, j int) bool {
		return out.Scenes[i].ID < out.Scenes[j].ID
	})

	report.Emit(progress.Event{
		Step:     StepVideos,
		Message:  "Videos generated",
		Progress: 100,
		Detail:   fmt.Sprintf("%d videos", len(out.VideoPaths)),
	})
	return out, nil
}

// renderGroup seeds the group's video from its anchor image and extends it
// once per following scene, returning the final clip.
func (v *VideoStage) renderGroup(ctx context.Context, g Group, sceneDone func(sceneID int)) (*gemini.Clip, error) {
	first := g.Scenes[0]
	mime, b64 := script.SplitDataURL(*first.ImageBase64)
	image, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("scene %d: decode anchor image: %w", first.ID, err)
	}

	v.logger.Info("seeding video", "group", g.Index, "scene_id", first.ID)
	clip, err := v.gen.GenerateFromImage(ctx, script.VideoPrompt(first.Scene), image, mime)
	if err != nil {
		return nil, fmt.Errorf("scene %d: %w", first.ID, err)
	}
	sceneDone(first.ID)

	if len(g.Scenes) > 1 {
		if err := sleepCtx(ctx, v.SeedSettle); err != nil {
			return nil, err
		}
	}

	for _, sc := range g.Scenes[1:] {
		if err := sleepCtx(ctx, v.ExtendSettle); err != nil {
			return nil, err
		}
		v.logger.Info("extending video", "group", g.Index, "scene_id", sc.ID)
		clip, err = v.gen.ExtendVideo(ctx, script.VideoPrompt(sc.Scene), clip)
		if err != nil {
			return nil, fmt.Errorf("scene %d: %w", sc.ID, err)
		}
		sceneDone(sc.ID)
	}
	return clip, nil
}
