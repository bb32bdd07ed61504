package registry

import "github.com/airjam/broker/internal/v1/protocol"

// palette is the 20-entry controller color wheel. Colors are assigned by
// admission index modulo the palette size, so rooms beyond 20 players see
// repeats - good enough for telling phones apart.
var palette = [20]string{
	"#38bdf8", // sky
	"#fb7185", // rose
	"#fbbf24", // amber
	"#34d399", // emerald
	"#a78bfa", // violet
	"#fb923c", // orange
	"#2dd4bf", // teal
	"#e879f9", // fuchsia
	"#a3e635", // lime
	"#818cf8", // indigo
	"#f472b6", // pink
	"#22d3ee", // cyan
	"#f87171", // red
	"#4ade80", // green
	"#c084fc", // purple
	"#facc15", // yellow
	"#60a5fa", // blue
	"#a8a29e", // stone
	"#94a3b8", // slate
	"#a1a1aa", // zinc
}

// colorForIndex returns the normalized palette color for the n-th admitted
// controller. A malformed palette entry falls back to the first color.
func colorForIndex(n int) string {
	color := protocol.NormalizeColor(palette[n%len(palette)])
	if color == "" {
		color = protocol.NormalizeColor(palette[0])
	}
	return color
}
