package decoder

import "github.com/Skryldev/imageloader/core"

// Register adds the standard decoders to reg.
func Register(reg core.Registry) {
	reg.RegisterDecoder(core.FormatJPEG, NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, NewPNG())
	reg.RegisterDecoder(core.FormatWebP, NewWebP())
	reg.RegisterDecoder(core.FormatGIF, NewGIF())
}
