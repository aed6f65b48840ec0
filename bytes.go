package elk

import (
	"strconv"
)

// Bytes is a size in bytes which prints in the largest binary unit it fills,
// e.g. 1536 prints as "1.5K". Bulk sizes are logged with it.
type Bytes uint64

var byteUnits = []struct {
	size   Bytes
	suffix string
}{
	{1 << 40, "T"},
	{1 << 30, "G"},
	{1 << 20, "M"},
	{1 << 10, "K"},
}

func (b Bytes) String() string {
	for _, u := range byteUnits {
		if b >= u.size {
			return strconv.FormatFloat(float64(b)/float64(u.size), 'f', 1, 64) + u.suffix
		}
	}
	return strconv.FormatUint(uint64(b), 10) + "B"
}
