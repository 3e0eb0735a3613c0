package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

type ffmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
	filePath   string
	fileDir    string
	fileName   string
}

func NewFfmpeg(
	mediaPath string,
) ffmpeg {
	// deal with media path
	mediaPath = filepath.Clean(mediaPath)
	mediaDir := filepath.Dir(mediaPath)
	mediaName := filepath.Base(mediaPath)

	return ffmpeg{
		ffmpegCmd:  "ffmpeg",
		ffprobeCmd: "ffprobe",
		filePath:   mediaPath,
		fileDir:    mediaDir,
		fileName:   mediaName,
	}
}

// Probe reads container-level metadata via ffprobe. A non-zero exit is
// tolerated as long as the output still carries a parseable format block.
func (ff ffmpeg) Probe() (Metadata, error) {
	cmdPath, err := exec.LookPath(ff.ffprobeCmd)
	if err != nil {
		return Metadata{}, err
	}
	cmd := exec.Command(cmdPath, ff.probeFormatArgs(ff.filePath)...)

	output, runErr := cmd.Output()
	if runErr != nil && len(bytes.TrimSpace(output)) == 0 {
		log.Error().Err(runErr).Str("path", ff.filePath).Msg("ffprobe failed")
		return Metadata{}, runErr
	}

	var probeResult struct {
		Format struct {
			Duration   string `json:"duration"`
			FormatName string `json:"format_name"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probeResult); err != nil {
		if runErr != nil {
			return Metadata{}, runErr
		}
		return Metadata{}, err
	}
	if probeResult.Format.Duration == "" && runErr != nil {
		return Metadata{}, runErr
	}

	meta := Metadata{FormatName: probeResult.Format.FormatName}
	if probeResult.Format.Duration != "" {
		duration, err := strconv.ParseFloat(probeResult.Format.Duration, 64)
		if err != nil {
			return Metadata{}, fmt.Errorf("parse duration %q: %w", probeResult.Format.Duration, err)
		}
		meta.Duration = duration
	}
	return meta, nil
}

// ExtractAudio writes the audio track of the source as mp3 into toDir and
// returns the output path.
func (ff ffmpeg) ExtractAudio(
	toDir string,
	name string,
) (string, error) {
	output := filepath.Join(toDir, name)

	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return "", err
	}
	cmd := exec.Command(cmdPath, ff.extractAudioArgs(output)...)

	return output, cmd.Run()
}

// ComposeClips cuts the given ranges out of the source, in order, and
// concatenates them into a single file under toDir. Clips are used exactly
// as passed: overlapping or repeated ranges each produce their own cut.
func (ff ffmpeg) ComposeClips(
	clips []Clip,
	audioOnly bool,
	toDir string,
	name string,
) (string, error) {
	if len(clips) == 0 {
		return "", fmt.Errorf("no clips to compose")
	}
	output := filepath.Join(toDir, name)

	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return "", err
	}
	cmd := exec.Command(cmdPath, ff.composeArgs(clips, audioOnly, output)...)

	if out, err := cmd.CombinedOutput(); err != nil {
		log.Error().Err(err).
			Str("path", ff.filePath).
			Str("output", strings.TrimSpace(string(out))).
			Msg("ffmpeg concat failed")
		return "", err
	}
	return output, nil
}

func (ffmpeg) probeFormatArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	}
}

func (f ffmpeg) extractAudioArgs(targetPath string) []string {
	return []string{
		"-i", f.filePath,
		"-vn", // drop video
		"-acodec", "libmp3lame",
		"-q:a", "2",
		"-y",
		targetPath,
	}
}

func (f ffmpeg) composeArgs(clips []Clip, audioOnly bool, targetPath string) []string {
	var filter strings.Builder
	for i, clip := range clips {
		start := formatSeconds(clip.Start)
		end := formatSeconds(clip.End)
		if !audioOnly {
			fmt.Fprintf(&filter, "[0:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS[v%d];", start, end, i)
		}
		fmt.Fprintf(&filter, "[0:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS[a%d];", start, end, i)
	}
	for i := range clips {
		if !audioOnly {
			fmt.Fprintf(&filter, "[v%d]", i)
		}
		fmt.Fprintf(&filter, "[a%d]", i)
	}

	if audioOnly {
		fmt.Fprintf(&filter, "concat=n=%d:v=0:a=1[outa]", len(clips))
		return []string{
			"-i", f.filePath,
			"-filter_complex", filter.String(),
			"-map", "[outa]",
			"-y",
			targetPath,
		}
	}

	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=1[outv][outa]", len(clips))
	return []string{
		"-i", f.filePath,
		"-filter_complex", filter.String(),
		"-map", "[outv]",
		"-map", "[outa]",
		"-y",
		targetPath,
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
