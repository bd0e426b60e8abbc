package location

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

var volumeChapterPattern = regexp.MustCompile(`^vol-(\d{2})/chap-(\d{2})/(.+)$`)

func TestVolumeChapter(t *testing.T) {
	s := VolumeChapter{}

	for range 200 {
		id := uuid.NewString()
		loc := s.Location(id)

		m := volumeChapterPattern.FindStringSubmatch(loc)
		if assert.NotNil(t, m, loc) {
			assert.GreaterOrEqual(t, m[1], "01")
			assert.LessOrEqual(t, m[1], "43")
			assert.GreaterOrEqual(t, m[2], "01")
			assert.LessOrEqual(t, m[2], "47")
			assert.Equal(t, id, m[3])
		}
		assert.Equal(t, loc, s.Location(id), "location must be deterministic")
	}
}

func TestTemporary(t *testing.T) {
	id := "tmp$" + uuid.NewString()
	loc := Temporary{}.Location(id)
	assert.Equal(t, "tmp/"+id, loc)
	assert.False(t, strings.HasPrefix(loc, "vol-"))
}

func TestStrategyFunc(t *testing.T) {
	var s Strategy = StrategyFunc(func(id string) string { return "flat/" + id })
	assert.Equal(t, "flat/x", s.Location("x"))
}
