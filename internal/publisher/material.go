package publisher

import (
	"path/filepath"
	"strings"
)

// Pair is an image and its caption file sharing one filename stem.
// Identity is both paths.
type Pair struct {
	Image   string `json:"image"`
	Caption string `json:"caption"`
}

// Stem returns the shared base name without extension.
func (p Pair) Stem() string {
	base := filepath.Base(p.Image)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var imageExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
}

const captionExt = ".txt"

func isImage(name string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

func isCaption(name string) bool {
	return strings.EqualFold(filepath.Ext(name), captionExt)
}

func stemOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// matchPairs pairs image names with caption names of the same stem.
// names must be plain file names; the result follows the order of names.
// When several images share one stem, only the first keeps the caption.
func matchPairs(dir string, names []string) []Pair {
	captions := make(map[string]string)
	for _, n := range names {
		if isCaption(n) {
			if _, dup := captions[stemOf(n)]; !dup {
				captions[stemOf(n)] = n
			}
		}
	}
	used := make(map[string]bool)
	var out []Pair
	for _, n := range names {
		if !isImage(n) {
			continue
		}
		stem := stemOf(n)
		txt, ok := captions[stem]
		if !ok || used[stem] {
			continue
		}
		used[stem] = true
		out = append(out, Pair{Image: filepath.Join(dir, n), Caption: filepath.Join(dir, txt)})
	}
	return out
}
