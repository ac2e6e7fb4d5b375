package capture

type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
}

type VideoConstraints struct {
	Width      int
	Height     int
	FrameRate  int
	FacingMode string
}

// Constraints requests media from a Device. A nil member means the kind is
// not requested.
type Constraints struct {
	Audio *AudioConstraints
	Video *VideoConstraints
}

func (c Constraints) WantsVideo() bool { return c.Video != nil }

// Only narrows the constraints to a single kind.
func (c Constraints) Only(kind Kind) Constraints {
	switch kind {
	case KindAudio:
		if c.Audio == nil {
			return Constraints{Audio: &AudioConstraints{}}
		}
		return Constraints{Audio: c.Audio}
	case KindVideo:
		if c.Video == nil {
			return Constraints{Video: &VideoConstraints{}}
		}
		return Constraints{Video: c.Video}
	default:
		return c
	}
}

type Tier struct {
	Name        string
	Constraints Constraints
}

// DefaultTiers lists the acquisition attempts from best to most permissive.
func DefaultTiers() []Tier {
	return []Tier{
		{
			Name: "ideal",
			Constraints: Constraints{
				Audio: &AudioConstraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true},
				Video: &VideoConstraints{Width: 1280, Height: 720, FrameRate: 30, FacingMode: "user"},
			},
		},
		{
			Name: "minimal",
			Constraints: Constraints{
				Audio: &AudioConstraints{},
				Video: &VideoConstraints{},
			},
		},
		{
			Name:        "audio-only",
			Constraints: Constraints{Audio: &AudioConstraints{}},
		},
	}
}
