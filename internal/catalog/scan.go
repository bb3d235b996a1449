package catalog

import (
	"io/fs"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"strings"

	"github.com/audiolens/masterqc/internal/errors"
)

// supportedExtensions are the container formats the validator analyzes.
var supportedExtensions = map[string]bool{
	".wav":  true,
	".flac": true,
	".aiff": true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
}

// Scan walks the catalog root and returns every supported audio file,
// sorted. Hidden directories are skipped.
func Scan(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileIO).
			FileContext(root, 0).
			Build()
	}
	sort.Strings(files)
	return files, nil
}

// sample keeps n files chosen by a partial Fisher-Yates shuffle: each pick
// swaps a random remaining element into place, so every subset is equally
// likely without shuffling the whole catalog.
func sample(files []string, n int, rng *rand.Rand) []string {
	if n <= 0 || n >= len(files) {
		return files
	}
	picked := append([]string(nil), files...)
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(picked)-i)
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked[:n]
}
