// Package config holds the application configuration: command-line flags
// with environment fallbacks, optional YAML hyper-parameter files, and
// validation run before any I/O.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	// DataDir is the model archive directory.
	DataDir string `yaml:"data_dir"`

	// Method selects the learning method (naivebayes, em, hem, maxent,
	// svm, active, knn, tfidf).
	Method string `yaml:"method"`

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat is the log output format (json, text).
	LogFormat string `yaml:"log_format"`

	// Seed drives every stochastic component.
	Seed uint64 `yaml:"seed"`

	// EventModel selects the generative event (word, document,
	// document-then-word).
	EventModel string `yaml:"event_model"`

	// TargetDocLength is the fixed length of the document-then-word
	// event model.
	TargetDocLength float64 `yaml:"target_doc_length"`

	Vocab  VocabConfig  `yaml:"vocab"`
	Test   TestConfig   `yaml:"test"`
	Server ServerConfig `yaml:"server"`

	NB     NBConfig     `yaml:"naivebayes"`
	EM     EMConfig     `yaml:"em"`
	Maxent MaxentConfig `yaml:"maxent"`
	SVM    SVMConfig    `yaml:"svm"`
	Active ActiveConfig `yaml:"active"`
	KNN    KNNConfig    `yaml:"knn"`
	HEM    HEMConfig    `yaml:"hem"`
}

// VocabConfig controls vocabulary construction and feature selection.
type VocabConfig struct {
	// UseVocabFile restricts the vocabulary to the words in this file.
	UseVocabFile string `yaml:"use_vocab_file"`

	// HideVocabFile hides the words in this file.
	HideVocabFile string `yaml:"hide_vocab_file"`

	// PruneByInfogain keeps only the top-N words by information gain.
	PruneByInfogain int `yaml:"prune_by_infogain"`

	// PruneByOccurCount drops words occurring fewer times in total.
	PruneByOccurCount int `yaml:"prune_by_occur_count"`

	// PruneByDocCount hides words appearing in at most N documents.
	PruneByDocCount int `yaml:"prune_by_doc_count"`
}

// TestConfig controls evaluation runs.
type TestConfig struct {
	// Trials is the number of random train/test splits.
	Trials int `yaml:"trials"`

	// Percentage of documents assigned to the test split per trial.
	Percentage int `yaml:"percentage"`
}

// ServerConfig controls the query server.
type ServerConfig struct {
	Port int `yaml:"port"`

	// Forking serves each connection concurrently.
	Forking bool `yaml:"forking"`
}

// NBConfig are the naive Bayes knobs.
type NBConfig struct {
	Smoothing       string  `yaml:"smoothing"` // laplace, mestimate, wittenbell, goodturing, dirichlet
	MEstimateM      float64 `yaml:"mestimate_m"`
	MEstimateP      float64 `yaml:"mestimate_p"`
	GoodTuringK     int     `yaml:"goodturing_k"`
	DirichletFile   string  `yaml:"dirichlet_file"`
	DirichletWeight float64 `yaml:"dirichlet_weight"`
	UniformPriors   bool    `yaml:"uniform_priors"`
}

// EMConfig are the EM knobs.
type EMConfig struct {
	NumRuns             int     `yaml:"num_runs"`
	UnlabeledNormalizer float64 `yaml:"unlabeled_normalizer"`
	LabeledForStartOnly bool    `yaml:"labeled_for_start_only"`
	Start               string  `yaml:"start"`   // zero, even, prior, random
	Perturb             string  `yaml:"perturb"` // none, gaussian, dirichlet
	Anneal              bool    `yaml:"anneal"`
	Temperature         float64 `yaml:"temperature"`
	TempReduction       float64 `yaml:"temp_reduction"`
	AnnealNormalizer    bool    `yaml:"anneal_normalizer"`
	Halt                string  `yaml:"halt"` // fixed, perplexity, accuracy
	ValidationFraction  float64 `yaml:"validation_fraction"`
	BinaryPosClass      string  `yaml:"binary_pos_class"`
	MultiHumpNeg        int     `yaml:"multi_hump_neg"`
	MultiHumpInit       string  `yaml:"multi_hump_init"` // spiked, spread
	Acceleration        float64 `yaml:"acceleration"`
}

// MaxentConfig are the maximum entropy knobs.
type MaxentConfig struct {
	NumIterations int     `yaml:"num_iterations"`
	Constraints   string  `yaml:"constraints"` // counts, logcounts, smoothed
	GaussianPrior bool    `yaml:"gaussian_prior"`
	PriorVariance float64 `yaml:"prior_variance"`
	PriorVary     string  `yaml:"prior_vary"` // constant, log, linear
	WordsPerClass int     `yaml:"words_per_class"`
	MinCount      int     `yaml:"min_count"`
	Halt          string  `yaml:"halt"` // fixed, logprob, accuracy
}

// SVMConfig are the SVM knobs.
type SVMConfig struct {
	Kernel              string  `yaml:"kernel"` // linear, polynomial, rbf, sigmoid, fisher
	PolyDegree          float64 `yaml:"poly_degree"`
	RBFGamma            float64 `yaml:"rbf_gamma"`
	C                   float64 `yaml:"cost"`
	TransductionC       float64 `yaml:"transduction_cost"`
	Pairwise            bool    `yaml:"pairwise"`
	Weighting           string  `yaml:"weighting"` // raw, tfidf, infogain
	EpsKKT              float64 `yaml:"eps_kkt"`
	WorkingSetSize      int     `yaml:"working_set_size"`
	ChunkSize           int     `yaml:"chunk_size"`
	CacheSize           int     `yaml:"cache_size"`
	RemoveMisclassified bool    `yaml:"remove_misclassified"`
	Transduce           bool    `yaml:"transduce"`
	TransducePositiveN  int     `yaml:"transduce_positive_n"`
	NoBias              bool    `yaml:"no_bias"`
}

// ActiveConfig are the active-learning knobs.
type ActiveConfig struct {
	Rounds        int     `yaml:"rounds"`
	AddPerRound   int     `yaml:"add_per_round"`
	CommitteeSize int     `yaml:"committee_size"`
	Criterion     string  `yaml:"criterion"` // uncertainty, relevance, random, length, qbc, ve, wkl, dkl, sve, skl
	PositiveClass string  `yaml:"positive_class"`
	Epsilon       float64 `yaml:"epsilon"`
	Remap         bool    `yaml:"remap"`
	WindowSize    int     `yaml:"window_size"`
	SecondaryEM   bool    `yaml:"secondary_em"`
	FinalEM       bool    `yaml:"final_em"`
}

// KNNConfig are the k-NN knobs.
type KNNConfig struct {
	K        int `yaml:"k"`
	EfSearch int `yaml:"ef_search"`
}

// HEMConfig are the hierarchical EM knobs.
type HEMConfig struct {
	Shrinkage           bool    `yaml:"shrinkage"`
	LOO                 bool    `yaml:"loo"`
	Temperature         float64 `yaml:"temperature"`
	TemperatureDecay    float64 `yaml:"temperature_decay"`
	MaxIterations       int     `yaml:"max_iterations"`
	Fienberg            bool    `yaml:"fienberg"`
	SplitKLThreshold    float64 `yaml:"split_kl_threshold"`
	MaxDepth            int     `yaml:"max_depth"`
	IncrementalLabeling bool    `yaml:"incremental_labeling"`
	LabelsPerIteration  int     `yaml:"labels_per_iteration"`
	AddMisc             bool    `yaml:"add_misc"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		DataDir:         "~/.nexs-textcat/model",
		Method:          "naivebayes",
		LogLevel:        "info",
		LogFormat:       "text",
		Seed:            1,
		EventModel:      "word",
		TargetDocLength: 200,
		Test:            TestConfig{Trials: 1, Percentage: 30},
		Server:          ServerConfig{Port: 0},
		NB:              NBConfig{Smoothing: "laplace", GoodTuringK: 7, DirichletWeight: 1},
		EM: EMConfig{
			NumRuns:             7,
			UnlabeledNormalizer: 1,
			Start:               "zero",
			Perturb:             "none",
			Temperature:         200,
			TempReduction:       0.9,
			Halt:                "fixed",
			MultiHumpInit:       "spiked",
			Acceleration:        1,
		},
		Maxent: MaxentConfig{
			NumIterations: 40,
			Constraints:   "counts",
			PriorVariance: 0.01,
			PriorVary:     "constant",
			Halt:          "fixed",
		},
		SVM: SVMConfig{
			Kernel:         "linear",
			PolyDegree:     3,
			RBFGamma:       1,
			C:              1,
			TransductionC:  1,
			Weighting:      "raw",
			EpsKKT:         1e-3,
			WorkingSetSize: 4,
		},
		Active: ActiveConfig{
			Rounds:        10,
			AddPerRound:   4,
			CommitteeSize: 1,
			Criterion:     "uncertainty",
			Epsilon:       0.1,
			WindowSize:    20,
		},
		KNN: KNNConfig{K: 30, EfSearch: 40},
		HEM: HEMConfig{
			Shrinkage:          true,
			LOO:                true,
			Temperature:        100,
			TemperatureDecay:   0.9,
			MaxIterations:      40,
			MaxDepth:           6,
			LabelsPerIteration: 5,
		},
	}
}

// getEnvOrDefault reads an environment variable with a fallback.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// RegisterFlags installs the top-level flags on fs. Method
// hyper-parameters come from the YAML params file.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DataDir, "d", getEnvOrDefault("TEXTCAT_DATA_DIR", c.DataDir),
		"Model archive directory")
	fs.StringVar(&c.DataDir, "data-dir", getEnvOrDefault("TEXTCAT_DATA_DIR", c.DataDir),
		"Model archive directory")
	fs.StringVar(&c.Method, "method", getEnvOrDefault("TEXTCAT_METHOD", c.Method),
		"Learning method (naivebayes, em, hem, maxent, svm, active, knn, tfidf)")
	fs.StringVar(&c.LogLevel, "log-level", getEnvOrDefault("TEXTCAT_LOG_LEVEL", c.LogLevel),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", getEnvOrDefault("TEXTCAT_LOG_FORMAT", c.LogFormat),
		"Log format (json, text)")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "Random seed")
	fs.StringVar(&c.EventModel, "event-model", c.EventModel,
		"Generative event model (word, document, document-then-word)")

	fs.StringVar(&c.Vocab.UseVocabFile, "use-vocab-in-file", c.Vocab.UseVocabFile,
		"Restrict the vocabulary to the words in FILE")
	fs.StringVar(&c.Vocab.HideVocabFile, "hide-vocab-in-file", c.Vocab.HideVocabFile,
		"Hide the words in FILE")
	fs.IntVar(&c.Vocab.PruneByInfogain, "prune-vocab-by-infogain", c.Vocab.PruneByInfogain,
		"Keep only the top N words by information gain")
	fs.IntVar(&c.Vocab.PruneByOccurCount, "prune-vocab-by-occur-count", c.Vocab.PruneByOccurCount,
		"Drop words occurring fewer than N times")
	fs.IntVar(&c.Vocab.PruneByDocCount, "prune-words-by-doc-count", c.Vocab.PruneByDocCount,
		"Hide words appearing in at most N documents")

	fs.IntVar(&c.Test.Percentage, "test-percentage", getEnvInt("TEXTCAT_TEST_PERCENTAGE", c.Test.Percentage),
		"Percentage of documents per test split")
}

// LoadParamsFile overlays method hyper-parameters from a YAML file.
func (c *Config) LoadParamsFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading params file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parsing params file: %w", err)
	}
	return nil
}

// Validate checks value ranges before any I/O happens.
func (c *Config) Validate() error {
	switch c.Method {
	case "naivebayes", "em", "hem", "maxent", "svm", "active", "knn", "tfidf":
	default:
		return fmt.Errorf("config: unknown method %q", c.Method)
	}
	switch c.EventModel {
	case "word", "document", "document-then-word":
	default:
		return fmt.Errorf("config: unknown event model %q", c.EventModel)
	}
	switch c.NB.Smoothing {
	case "laplace", "mestimate", "wittenbell", "goodturing", "dirichlet":
	default:
		return fmt.Errorf("config: unknown smoothing %q", c.NB.Smoothing)
	}
	if c.Test.Percentage < 0 || c.Test.Percentage > 100 {
		return fmt.Errorf("config: test percentage %d out of range", c.Test.Percentage)
	}
	if c.EM.UnlabeledNormalizer < 0 || c.EM.UnlabeledNormalizer > 1 {
		return fmt.Errorf("config: unlabeled normalizer %g out of [0,1]", c.EM.UnlabeledNormalizer)
	}
	if c.Maxent.PriorVariance <= 0 {
		return fmt.Errorf("config: maxent prior variance must be positive")
	}
	if c.SVM.C <= 0 {
		return fmt.Errorf("config: svm cost must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}
	return nil
}
