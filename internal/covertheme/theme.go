// Package covertheme derives a stable placeholder cover theme for records
// that have no artwork yet.
package covertheme

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

var icons = []string{
	"guitar",
	"music",
	"activity",
	"keyboard-music",
	"audio-waveform",
	"music-2",
	"music-4",
	"mic-vocal",
}

var colors = []string{
	"#FF6F91",
	"#FF9671",
	"#FFC75F",
	"#F9F871",
	"#A0E7E5",
	"#B4F8C8",
	"#FBE7C6",
	"#C9B6E4",
}

// Derive maps a generation id onto a deterministic color/icon pair.
func Derive(seed string) (color, icon string) {
	sum := md5.Sum([]byte(seed))
	digest := hex.EncodeToString(sum[:])
	c, _ := strconv.ParseUint(digest[:8], 16, 64)
	i, _ := strconv.ParseUint(digest[8:16], 16, 64)
	return colors[c%uint64(len(colors))], icons[i%uint64(len(icons))]
}
