package probe

import (
	"os"
	"path/filepath"
)

// Cover image names checked next to a track, in order
var artNames = []string{
	"folder.jpg", "folder.png",
	"cover.jpg", "cover.png",
	"album.jpg", "album.png",
	"front.jpg", "front.png",
	"Folder.jpg", "Folder.png",
	"Cover.jpg", "Cover.png",
}

// Artwork looks for a cover image in the track's directory, then for a
// folder image one level up (the artist directory). It returns "" when
// nothing is found.
func (p *Prober) Artwork(trackPath string) string {
	if trackPath == "" {
		return ""
	}

	dir := filepath.Dir(trackPath)
	for _, name := range artNames {
		candidate := filepath.Join(dir, name)
		if fileExists(candidate) {
			return candidate
		}
	}

	parent := filepath.Dir(dir)
	for _, name := range []string{"folder.jpg", "folder.png", "Folder.jpg", "Folder.png"} {
		candidate := filepath.Join(parent, name)
		if fileExists(candidate) {
			return candidate
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
