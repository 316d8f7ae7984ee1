package sizes

// Preset describes one target derivative configuration: the bounding box the
// source is fitted into, the output format, and the filename suffix used for
// the on-disk derivative.
type Preset struct {
	Name         string
	TargetWidth  int
	TargetHeight int
	Format       string // "jpeg", "png" or "gif"; must match a registered encoder
	Suffix       string
	InSrcset     bool // part of the responsive srcset subset
}

// The default catalog, defined once at startup and never mutated. Ordered by
// ascending width.
var presets = []Preset{
	{Name: "thumb", TargetWidth: 150, TargetHeight: 150, Format: "jpeg", Suffix: "thumb", InSrcset: false},
	{Name: "small", TargetWidth: 320, TargetHeight: 240, Format: "jpeg", Suffix: "small", InSrcset: true},
	{Name: "medium", TargetWidth: 640, TargetHeight: 480, Format: "jpeg", Suffix: "medium", InSrcset: true},
	{Name: "large", TargetWidth: 1024, TargetHeight: 768, Format: "jpeg", Suffix: "large", InSrcset: true},
	{Name: "full", TargetWidth: 1920, TargetHeight: 1080, Format: "png", Suffix: "full", InSrcset: true},
}

// All returns every configured preset in ascending width order.
func All() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// For returns every preset whose target box fits inside the source in both
// axes. A preset larger than the source in either dimension is skipped, never
// upscaled. Source dimensions must be positive; validating them is the
// caller's job.
func For(srcWidth, srcHeight int) []Preset {
	var out []Preset
	for _, p := range presets {
		if p.TargetWidth <= srcWidth && p.TargetHeight <= srcHeight {
			out = append(out, p)
		}
	}
	return out
}

// ByName looks up a preset by its name.
func ByName(name string) (Preset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// Ext returns the file extension for the preset's output format.
func (p Preset) Ext() string {
	switch p.Format {
	case "png":
		return "png"
	case "gif":
		return "gif"
	default:
		return "jpg"
	}
}

// ContentType returns the MIME type of the preset's output format.
func (p Preset) ContentType() string {
	switch p.Format {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
