// Package export renders a session's video groups as an editing timeline
// so the generated clips can be reassembled in an NLE.
package export

import (
	"fmt"
	"time"

	"github.com/scivid/scivid/internal/script"
)

// DefaultFrameRate matches the frame rate of the generated clips.
const DefaultFrameRate = 24.0

// EstimatedSceneDuration is assumed per scene when a clip cannot be probed.
const EstimatedSceneDuration = 8 * time.Second

// Clip is one timeline event: a whole group video.
type Clip struct {
	Name      string
	MediaPath string
	StartMs   int
	EndMs     int
	SceneIDs  []int
}

// DurationFunc reports the length of a media file, false when unknown.
type DurationFunc func(path string) (time.Duration, bool)

// ClipsFromOutput builds one clip per video group in order. Outputs
// without group records fall back to one clip per distinct scene video.
func ClipsFromOutput(final *script.FinalOutput, duration DurationFunc) []Clip {
	groups := final.VideoGroups
	if len(groups) == 0 {
		groups = groupsFromScenes(final.Scenes)
	}

	clips := make([]Clip, 0, len(groups))
	for _, g := range groups {
		if g.VideoPath == "" {
			continue
		}
		d := time.Duration(len(g.SceneIDs)) * EstimatedSceneDuration
		if duration != nil {
			if probed, ok := duration(g.VideoPath); ok && probed > 0 {
				d = probed
			}
		}
		clips = append(clips, Clip{
			Name:      clipName(g),
			MediaPath: g.VideoPath,
			EndMs:     int(d.Milliseconds()),
			SceneIDs:  g.SceneIDs,
		})
	}
	return clips
}

func clipName(g script.VideoGroup) string {
	if g.StartSceneID == g.EndSceneID {
		return fmt.Sprintf("Scene %d", g.StartSceneID)
	}
	return fmt.Sprintf("Scenes %d-%d", g.StartSceneID, g.EndSceneID)
}

func groupsFromScenes(scenes []script.VideoScene) []script.VideoGroup {
	var groups []script.VideoGroup
	for _, sc := range scenes {
		n := len(groups)
		if n > 0 && groups[n-1].VideoPath == sc.VideoPath {
			groups[n-1].EndSceneID = sc.ID
			groups[n-1].SceneIDs = append(groups[n-1].SceneIDs, sc.ID)
			continue
		}
		groups = append(groups, script.VideoGroup{
			VideoIndex:   n + 1,
			StartSceneID: sc.ID,
			EndSceneID:   sc.ID,
			SceneIDs:     []int{sc.ID},
			VideoPath:    sc.VideoPath,
		})
	}
	return groups
}
