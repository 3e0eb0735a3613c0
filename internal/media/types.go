package media

// Metadata describes a stored media artifact as reported by ffprobe.
type Metadata struct {
	Duration   float64 // seconds, 0 when the container does not report one
	FormatName string
}

// Clip is a half-open time range cut out of the source media.
type Clip struct {
	Start float64
	End   float64
}

type Operator interface {
	Probe() (Metadata, error)
	ExtractAudio(toDir string, name string) (string, error)
	ComposeClips(clips []Clip, audioOnly bool, toDir string, name string) (string, error)
}

func NewOperator(
	mediaPath string,
) Operator {
	return NewFfmpeg(mediaPath)
}
