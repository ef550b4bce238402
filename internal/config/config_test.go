package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown method", func(c *Config) { c.Method = "perceptron" }},
		{"unknown event model", func(c *Config) { c.EventModel = "sentence" }},
		{"unknown smoothing", func(c *Config) { c.NB.Smoothing = "kneser-ney" }},
		{"test percentage", func(c *Config) { c.Test.Percentage = 150 }},
		{"normalizer range", func(c *Config) { c.EM.UnlabeledNormalizer = 2 }},
		{"prior variance", func(c *Config) { c.Maxent.PriorVariance = 0 }},
		{"svm cost", func(c *Config) { c.SVM.C = -1 }},
		{"port", func(c *Config) { c.Server.Port = 99999 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFlagsOverrideDefaults(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--method", "svm",
		"--data-dir", "/tmp/model",
		"--seed", "99",
		"--prune-vocab-by-infogain", "500",
	}))

	assert.Equal(t, "svm", cfg.Method)
	assert.Equal(t, "/tmp/model", cfg.DataDir)
	assert.Equal(t, uint64(99), cfg.Seed)
	assert.Equal(t, 500, cfg.Vocab.PruneByInfogain)
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("TEXTCAT_METHOD", "em")
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))
	assert.Equal(t, "em", cfg.Method)
}

func TestParamsFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
naivebayes:
  smoothing: wittenbell
em:
  num_runs: 12
svm:
  kernel: rbf
  rbf_gamma: 0.5
`), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadParamsFile(path))
	assert.Equal(t, "wittenbell", cfg.NB.Smoothing)
	assert.Equal(t, 12, cfg.EM.NumRuns)
	assert.Equal(t, "rbf", cfg.SVM.Kernel)
	assert.InDelta(t, 0.5, cfg.SVM.RBFGamma, 1e-12)

	assert.Error(t, cfg.LoadParamsFile(filepath.Join(dir, "missing.yaml")))
}
