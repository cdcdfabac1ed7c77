package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// GenerateEDL renders clips as a CMX3600 edit list laid end to end on the
// record side.
func GenerateEDL(clips []Clip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", title)
	if isDropFrame {
		b.WriteString("FCM: DROP FRAME\n")
	} else {
		b.WriteString("FCM: NON-DROP FRAME\n")
	}
	b.WriteString("\n")

	recordMs := 0
	for i, clip := range clips {
		length := clip.EndMs - clip.StartMs
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n",
			i+1, reelName(i), "V",
			msToTimecode(clip.StartMs, fps), msToTimecode(clip.EndMs, fps),
			msToTimecode(recordMs, fps), msToTimecode(recordMs+length, fps))
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", clip.Name)
		fmt.Fprintf(&b, "* SOURCE FILE:  %s\n", filepath.Base(clip.MediaPath))
		if len(clip.SceneIDs) > 0 {
			fmt.Fprintf(&b, "* COMMENT:  scenes %s\n", joinInts(clip.SceneIDs))
		}
		recordMs += length
	}
	return b.String()
}

// reelName gives each group video its own reel.
func reelName(i int) string {
	return fmt.Sprintf("V%03d", i+1)
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
