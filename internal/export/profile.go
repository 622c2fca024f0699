package export

import "math"

// Profile is the H.264 profile, level and target bitrate for an output format
type Profile struct {
	Name    string
	Level   string
	Bitrate int64
}

type level struct {
	name string
	// macroblocks per second
	rate float64
	// macroblocks per frame
	size float64
}

var levels = []level{
	{"3.0", 40500, 1620},
	{"3.1", 108000, 3600},
	{"3.2", 216000, 5120},
	{"4.0", 245760, 8192},
	{"4.2", 522240, 8704},
	{"5.0", 589824, 22080},
	{"5.1", 983040, 36864},
	{"5.2", 2073600, 36864},
	{"6.0", 4177920, 139264},
	{"6.2", 16711680, 139264},
}

// Bitrate bounds in bits per second
const (
	minBitrate = 1_000_000
	maxBitrate = 80_000_000
	// bitsPerPixel targets visually clean H.264 at typical content complexity
	bitsPerPixel = 0.1
)

// ChooseProfile picks the lowest level that fits the format and a bitrate
// proportional to the pixel rate
func ChooseProfile(width, height int, fps float64) Profile {
	mbs := math.Ceil(float64(width)/16) * math.Ceil(float64(height)/16)
	p := Profile{Name: "high", Level: levels[len(levels)-1].name}
	for _, l := range levels {
		if mbs <= l.size && mbs*fps <= l.rate {
			p.Level = l.name
			break
		}
	}

	bitrate := float64(width) * float64(height) * fps * bitsPerPixel
	p.Bitrate = int64(math.Max(minBitrate, math.Min(maxBitrate, bitrate)))
	return p
}
