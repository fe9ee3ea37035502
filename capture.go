package screenprobe

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/glaslos/ssdeep"
	"github.com/root4loot/goutils/log"
	"github.com/root4loot/screenprobe/pkg/engine"
)

// ErrEmptyImage is returned when the browser produced no image data.
var ErrEmptyImage = errors.New("captured image is empty")

// Result contains the result of a capture run.
type Result struct {
	TargetURL  string
	LandingURL string
	StatusCode int
	Engine     string
	Image      engine.Image
	OutputPath string
	Similarity int // ssdeep score against the replaced file, -1 if unknown
	Duration   time.Duration
}

// WriteToFile writes the image to path, replacing any existing file. The
// data goes to a temporary file in the same directory that is renamed over
// path, so readers never see a partial image and a failed write leaves the
// previous file untouched. The file is created like os.Create would, with
// mode 0666 before umask.
func (result Result) WriteToFile(path string) (filename string, err error) {
	if len(result.Image) == 0 {
		return "", ErrEmptyImage
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}

	removeStaleTemp(path)

	file, err := createTemp(path)
	if err != nil {
		return "", err
	}
	tmpName := file.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = file.Write(result.Image); err != nil {
		file.Close()
		return "", err
	}
	if err = file.Close(); err != nil {
		return "", err
	}

	if err = os.Rename(tmpName, path); err != nil {
		return "", err
	}

	return path, nil
}

// tempPrefix is the name prefix of temporary files written next to path.
func tempPrefix(path string) string {
	return "." + filepath.Base(path) + "-"
}

func createTemp(path string) (*os.File, error) {
	prefix := filepath.Join(filepath.Dir(path), tempPrefix(path))

	var err error
	for i := 0; i < 10; i++ {
		name := prefix + strconv.FormatInt(time.Now().UnixNano()+int64(i), 36)

		var file *os.File
		file, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	return nil, err
}

// removeStaleTemp deletes temporary files left next to path by runs that
// were killed before renaming.
func removeStaleTemp(path string) {
	dir := filepath.Dir(path)
	prefix := tempPrefix(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		stale := filepath.Join(dir, e.Name())
		if err := os.Remove(stale); err != nil {
			log.Warnf("Could not remove stale file %s: %v", stale, err)
		} else {
			log.Debugf("Removed stale file %s", stale)
		}
	}
}

// SimilarityToFile returns the ssdeep score between the image and the file
// at path, or -1 if the file is missing or either side is too small to hash.
func (result Result) SimilarityToFile(path string) int {
	previous, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Could not read previous screenshot %s: %v", path, err)
		}
		return -1
	}

	score := Similarity(previous, result.Image)
	if score >= 0 {
		log.Debugf("Screenshot similarity to previous %s: %d", path, score)
	}
	return score
}

// Similarity returns the ssdeep score (0-100) between two images, or -1 if
// either cannot be hashed.
func Similarity(a, b []byte) int {
	hash1, err := ssdeep.FuzzyBytes(a)
	if err != nil {
		log.Debugf("Could not hash previous image: %v", err)
		return -1
	}

	hash2, err := ssdeep.FuzzyBytes(b)
	if err != nil {
		log.Debugf("Could not hash new image: %v", err)
		return -1
	}

	score, err := ssdeep.Distance(hash1, hash2)
	if err != nil {
		log.Debugf("Could not compare images: %v", err)
		return -1
	}

	return score
}
