package main

import (
	"errors"
	"path"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"seqtorrent/internal/engine"
)

var errNoFiles = errors.New("torrent has no files")

// pickFile returns the file whose name is closest to name, or the largest
// file when name is empty. Ties go to the larger file.
func pickFile(files []engine.File, name string) (engine.File, error) {
	if len(files) == 0 {
		return engine.File{}, errNoFiles
	}

	best := files[0]
	if name == "" {
		for _, f := range files[1:] {
			if f.Length > best.Length {
				best = f
			}
		}
		return best, nil
	}

	want := []rune(strings.ToLower(name))
	bestDist := -1
	for _, f := range files {
		d := levenshtein.DistanceForStrings(want, []rune(strings.ToLower(path.Base(f.Path))), levenshtein.DefaultOptions)
		if bestDist < 0 || d < bestDist || (d == bestDist && f.Length > best.Length) {
			best, bestDist = f, d
		}
	}
	return best, nil
}
