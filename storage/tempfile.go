package storage

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WithTempFile creates a uniquely-named file under dir (name collisions
// across concurrent differ workers are avoided with a uuid suffix, in
// place of the teacher's ad hoc *-tmp naming), calls fn with its path, and
// unconditionally unlinks it afterward — on success, on error, and while a
// panic unwinds — per the design note "acquire with a scoped guard that
// unlinks on every exit path."
func WithTempFile(dir, prefix string, fn func(path string) error) (err error) {
	path := filepath.Join(dir, prefix+"-"+uuid.NewString())
	defer func() {
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
	}()
	return fn(path)
}
