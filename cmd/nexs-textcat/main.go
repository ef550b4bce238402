// Command nexs-textcat indexes text corpora, trains probabilistic
// classifiers, evaluates them on random splits, and serves classification
// queries over stdin or TCP.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/fsvxavier/nexs-textcat/internal/config"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
)

const version = "0.1.0"

// modeFlags are the mutually exclusive top-level operations.
type modeFlags struct {
	index       bool
	indexLines  string
	indexMatrix string
	query       bool
	test        int
	server      int
	forking     int

	printWordProbs    int
	printWordInfogain int
	printMatrix       bool

	paramsFile string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "nexs-textcat: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// A .env in the working directory may carry TEXTCAT_* settings.
	_ = godotenv.Load()

	cfg := config.Default()
	var modes modeFlags

	fs := flag.NewFlagSet("nexs-textcat", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	fs.BoolVar(&modes.index, "index", false, "Index the documents under the argument directories (one subdirectory per class)")
	fs.StringVar(&modes.indexLines, "index-lines", "", "Index FILE with one '<class> <text>' document per line")
	fs.StringVar(&modes.indexMatrix, "index-matrix", "", "Index FILE of '<doc> <class> <word>:<count>...' sparse rows")
	fs.BoolVar(&modes.query, "query", false, "Classify the argument file (or stdin) against the saved model")
	fs.IntVar(&modes.test, "test", 0, "Run N trials of random train/test splits and print a transcript")
	fs.IntVar(&modes.server, "query-server", 0, "Serve queries on this TCP port")
	fs.IntVar(&modes.forking, "forking-query-server", 0, "Serve queries concurrently on this TCP port")
	fs.IntVar(&modes.printWordProbs, "print-word-probabilities", 0, "Print the top N words by P(w|class) per class")
	fs.IntVar(&modes.printWordInfogain, "print-word-infogain", 0, "Print the top N words by information gain")
	fs.BoolVar(&modes.printMatrix, "print-matrix", false, "Dump the indexed matrix as 'di wi count' triples")
	fs.StringVar(&modes.paramsFile, "params", "", "YAML file of method hyper-parameters")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if modes.paramsFile != "" {
		if err := cfg.LoadParamsFile(modes.paramsFile); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Setup(cfg.LogLevel, cfg.LogFormat, nil)
	logger.Info("nexs-textcat", "version", version, "method", cfg.Method, "data_dir", cfg.DataDir)

	switch {
	case modes.index:
		if fs.NArg() == 0 {
			return fmt.Errorf("--index requires at least one class directory")
		}
		return indexDirs(cfg, fs.Args())
	case modes.indexLines != "":
		return indexLines(cfg, modes.indexLines)
	case modes.indexMatrix != "":
		return indexMatrix(cfg, modes.indexMatrix)
	case modes.test > 0:
		return runTest(cfg, modes.test)
	case modes.query:
		file := ""
		if fs.NArg() > 0 {
			file = fs.Arg(0)
		}
		return runQuery(cfg, file)
	case modes.server > 0:
		return runServer(cfg, modes.server, false)
	case modes.forking > 0:
		return runServer(cfg, modes.forking, true)
	case modes.printWordProbs > 0:
		return printWordProbabilities(cfg, modes.printWordProbs)
	case modes.printWordInfogain > 0:
		return printInfogain(cfg, modes.printWordInfogain)
	case modes.printMatrix:
		return printMatrix(cfg)
	}
	fs.Usage()
	return fmt.Errorf("no operation selected (try --index, --test, --query or --query-server)")
}

// expandHome resolves a leading ~ in configured paths.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
