package remote

import (
	"regexp"

	"github.com/yz4230/shipyard/internal/entity"
)

// Images are interpolated into remote shell commands, so only plain
// name:tag references get through.
var imageRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+:[A-Za-z0-9_.-]+$`)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateImage rejects anything that is not a plain name:tag reference.
func ValidateImage(ref string) error {
	if !imageRe.MatchString(ref) {
		return entity.ErrInvalidImageFormat
	}
	return nil
}

// ImageRef builds "<app>:<tag>".
func ImageRef(app, tag string) string {
	return app + ":" + tag
}
