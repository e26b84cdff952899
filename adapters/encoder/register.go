package encoder

import "github.com/Skryldev/imageloader/core"

// Register adds the standard encoders to reg.
func Register(reg core.Registry, defaultQuality int) {
	reg.RegisterEncoder(core.FormatJPEG, NewJPEG(defaultQuality))
	reg.RegisterEncoder(core.FormatPNG, NewPNG())
}
