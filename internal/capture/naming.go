package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const stampLayout = "2006-01-02_15-04-05"

// recordingName derives a file name from now at second resolution. When the
// name is taken (two sessions inside the same second) a numeric suffix is
// appended, starting at 2.
func recordingName(prefix, ext string, now time.Time, taken func(string) bool) string {
	base := prefix + now.Format(stampLayout)
	name := base + ext
	for n := 2; taken(name); n++ {
		name = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	return name
}

func existsIn(dir string) func(string) bool {
	return func(name string) bool {
		_, err := os.Lstat(filepath.Join(dir, name))
		return err == nil
	}
}
