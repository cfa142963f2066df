package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "firewheel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const baseConfig = `
logging:
  level: debug
  root_dir: /var/log/firewheel
  vmr_log_dir: vmr
  firewheel_log: firewheel.log
  cli_log: cli.log
system:
  umask: "022"
  default_group: firewheel
  default_output_dir: /tmp/fw
cluster:
  control: ["head.cluster"]
  compute: ["node1.cluster", "node2.cluster"]
minimega:
  base_dir: /tmp/minimega
  files_dir: /tmp/minimega/files
  install_dir: /opt/minimega
  namespace: firewheel
grpc:
  hostname: localhost
  port: 50051
  db: /tmp/grpc.db
  threads: 4
  root_dir: /tmp/grpc
  cache_dir: /tmp/grpc/cache
ssh:
  user: firewheel
vm_resource_manager:
  default_state: uninitialized
attribute_defaults:
  c1: m_b
`

func TestLoadNormalizesLoggingLevel(t *testing.T) {
	path := writeTempConfig(t, baseConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoadComputesMinimegaDegreeFromClusterNodes(t *testing.T) {
	path := writeTempConfig(t, baseConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Minimega.Degree)
}

func TestLoadAcceptsBareIntegerLoggingLevel(t *testing.T) {
	body := `
logging:
  level: 10
cluster:
  control: ["head"]
`
	path := writeTempConfig(t, body)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10", cfg.Logging.Level)
}

func TestLoadRejectsUnknownLoggingLevel(t *testing.T) {
	body := `
logging:
  level: NOISY
cluster:
  control: ["head"]
`
	path := writeTempConfig(t, body)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadReturnsErrorForMalformedYAML(t *testing.T) {
	path := writeTempConfig(t, "logging: [this is not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestUmaskValueParsesOctal(t *testing.T) {
	s := System{Umask: "022"}
	v, err := s.UmaskValue()
	require.NoError(t, err)
	assert.Equal(t, 0o022, v)
}

func TestAttributeDefaultsLoaded(t *testing.T) {
	path := writeTempConfig(t, baseConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "m_b", cfg.AttributeDefaults["c1"])
}
