package ogimage

const (
	ImageWidth  = 1200
	ImageHeight = 630
)

var sizeWidths = map[string]int{
	"tiny":   150,
	"small":  375,
	"medium": 650,
}

// MaxWidth maps a size keyword to a pixel width. Unknown or empty keywords get the full width.
func MaxWidth(size string) int {
	if w, ok := sizeWidths[size]; ok {
		return w
	}
	return ImageWidth
}
