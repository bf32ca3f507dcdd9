package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, Commit, info.Commit)
	assert.Equal(t, Date, info.Date)
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "1.0.0", Commit: "a1b2c3d", Date: "2026-08-01T10:00:00Z"}
	assert.Equal(t, "stepwright v1.0.0 (commit: a1b2c3d, built: 2026-08-01T10:00:00Z)", info.String())
}
