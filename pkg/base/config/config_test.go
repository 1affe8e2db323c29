package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/esxops/vmdkops/pkg/base"
)

func TestReaderDefaultsWhenFileMissing(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "absent.yaml"), logrus.New())

	cfg := r.Config()
	assert.Equal(t, DefaultLogPath, cfg.LogPath)
	assert.Equal(t, uint32(base.DefaultVMCIPort), cfg.Port)
	assert.Equal(t, logrus.InfoLevel, r.Level())
}

func TestReaderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("logLevel: debug\nport: 2049\ntools:\n  vmkfstools: /opt/bin/vmkfstools\n")
	assert.Nil(t, os.WriteFile(path, data, 0644))

	r := NewReader(path, logrus.New())

	cfg := r.Config()
	assert.Equal(t, uint32(2049), cfg.Port)
	assert.Equal(t, "/opt/bin/vmkfstools", cfg.Tools.Vmkfstools)
	assert.Equal(t, logrus.DebugLevel, r.Level())
	// unset values keep defaults
	assert.Equal(t, DefaultLogPath, cfg.LogPath)
}

func TestReaderKeepsConfigOnBadYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Nil(t, os.WriteFile(path, []byte("port: 2049\n"), 0644))

	r := NewReader(path, logrus.New())
	assert.Equal(t, uint32(2049), r.Config().Port)

	assert.Nil(t, os.WriteFile(path, []byte("{not yaml"), 0644))
	r.readAndSetConfig()
	assert.Equal(t, uint32(2049), r.Config().Port)
}

func TestReaderUnknownLevelFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Nil(t, os.WriteFile(path, []byte("logLevel: chatty\n"), 0644))

	r := NewReader(path, logrus.New())
	assert.Equal(t, logrus.InfoLevel, r.Level())
}
