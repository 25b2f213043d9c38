// MODUL: pairs
// ZWECK: Bilder und Masken zweier Verzeichnisse einander zuordnen
// INPUT: Bildverzeichnis und Maskenverzeichnis (oder zwei Dateien)
// OUTPUT: []Pair in sortierter Reihenfolge
// NEBENEFFEKTE: Dateisystem-Lesezugriff (Verzeichnislisten)
// ABHAENGIGKEITEN: emirpasic/gods/v2 (treemap), agnivade/levenshtein
// HINWEISE: Regel 1 gleicher Dateistamm (auch <stem>_mask, <stem>-mask),
//           Regel 2 sortierte Reihenfolge wenn kein Stamm passt und die Anzahl gleich ist,
//           gleiche Staemme erhalten die Endung im Namen

package imageproc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/emirpasic/gods/v2/maps/treemap"
)

// Fehler-Definitionen
var (
	ErrNoPairs  = errors.New("keine bilder gefunden")
	ErrUnpaired = errors.New("bild ohne maske")
	ErrDupName  = errors.New("doppelter ausgabename")
)

var maskSuffixes = []string{"_mask", "-mask", ".mask"}

// Pair ist ein Bild mit zugehoeriger Maske
type Pair struct {
	Name      string `json:"name"`
	ImagePath string `json:"image"`
	MaskPath  string `json:"mask"`
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// listImages gibt Bilddateien eines Verzeichnisses sortiert zurueck
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !IsImageFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// Pairs ordnet Bilder aus imageDir den Masken aus maskDir zu
func Pairs(imageDir, maskDir string) ([]Pair, error) {
	fi, err := os.Stat(imageDir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		mi, err := os.Stat(maskDir)
		if err != nil {
			return nil, err
		}
		if mi.IsDir() {
			return nil, fmt.Errorf("%s ist eine Datei, %s aber ein Verzeichnis", imageDir, maskDir)
		}
		return []Pair{{Name: stem(imageDir), ImagePath: imageDir, MaskPath: maskDir}}, nil
	}

	images, err := listImages(imageDir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPairs, imageDir)
	}

	masks, err := listImages(maskDir)
	if err != nil {
		return nil, err
	}

	// Stamm -> Pfad, exakte Staemme ueberschreiben Staemme mit Suffix
	index := treemap.New[string, string]()
	for _, m := range masks {
		s := stem(m)
		for _, suffix := range maskSuffixes {
			if trimmed, ok := strings.CutSuffix(s, suffix); ok && trimmed != "" {
				if _, found := index.Get(trimmed); !found {
					index.Put(trimmed, m)
				}
			}
		}
	}
	for _, m := range masks {
		index.Put(stem(m), m)
	}

	pairs := make([]Pair, 0, len(images))
	var unpaired []string
	for _, img := range images {
		s := stem(img)
		if m, found := index.Get(s); found {
			pairs = append(pairs, Pair{Name: s, ImagePath: img, MaskPath: m})
		} else {
			unpaired = append(unpaired, s)
		}
	}

	if len(pairs) == 0 && len(images) == len(masks) {
		for i, img := range images {
			pairs = append(pairs, Pair{Name: stem(img), ImagePath: img, MaskPath: masks[i]})
		}
		return uniqueNames(pairs)
	}

	if len(unpaired) > 0 {
		var errs []error
		for _, s := range unpaired {
			if hint := closest(s, index.Keys()); hint != "" {
				errs = append(errs, fmt.Errorf("%w: %s (meinten Sie %s?)", ErrUnpaired, s, hint))
			} else {
				errs = append(errs, fmt.Errorf("%w: %s", ErrUnpaired, s))
			}
		}
		return nil, errors.Join(errs...)
	}

	return uniqueNames(pairs)
}

// uniqueNames haengt bei gleichem Stamm die Endung an (a.png, a.jpg -> a_png, a_jpg),
// damit keine zwei Paare in dieselbe Ausgabedatei schreiben
func uniqueNames(pairs []Pair) ([]Pair, error) {
	count := make(map[string]int, len(pairs))
	for _, p := range pairs {
		count[p.Name]++
	}

	for i, p := range pairs {
		if count[p.Name] > 1 {
			ext := strings.TrimPrefix(filepath.Ext(p.ImagePath), ".")
			pairs[i].Name = p.Name + "_" + ext
		}
	}

	seen := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if other, ok := seen[p.Name]; ok {
			return nil, fmt.Errorf("%w: %s und %s ergeben beide %s", ErrDupName, other, p.ImagePath, p.Name)
		}
		seen[p.Name] = p.ImagePath
	}
	return pairs, nil
}

// closest gibt den aehnlichsten Kandidaten zurueck, wenn er nah genug ist
func closest(s string, candidates []string) string {
	best, dist := "", len(s)/2+1
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(s, c); d < dist {
			best, dist = c, d
		}
	}
	return best
}
