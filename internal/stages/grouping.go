package stages

import (
	"errors"
	"fmt"

	"github.com/scivid/scivid/internal/script"
)

// ErrNoAnchor is returned when a scene has no anchor image and there is
// no earlier group for it to extend.
var ErrNoAnchor = errors.New("scene has no anchor image and no preceding video group")

// Group is a run of scenes rendered into one video: the first scene seeds
// the video from its anchor image and each later scene extends it.
type Group struct {
	Index  int
	Scenes []script.ImageScene
}

func (g Group) StartID() int {
	return g.Scenes[0].ID
}

// EndID names the group's video file.
func (g Group) EndID() int {
	return g.Scenes[len(g.Scenes)-1].ID
}

func (g Group) SceneIDs() []int {
	ids := make([]int, len(g.Scenes))
	for i, s := range g.Scenes {
		ids[i] = s.ID
	}
	return ids
}

// GroupScenes partitions scenes in order. An anchored scene starts a new
// group; an unanchored scene joins the current one.
func GroupScenes(scenes []script.ImageScene) ([]Group, error) {
	var groups []Group
	for _, sc := range scenes {
		if sc.HasAnchor() {
			groups = append(groups, Group{Index: len(groups), Scenes: []script.ImageScene{sc}})
			continue
		}
		if len(groups) == 0 {
			return nil, fmt.Errorf("scene %d: %w", sc.ID, ErrNoAnchor)
		}
		last := &groups[len(groups)-1]
		last.Scenes = append(last.Scenes, sc)
	}
	return groups, nil
}
