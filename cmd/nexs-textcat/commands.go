package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fsvxavier/nexs-textcat/internal/active"
	"github.com/fsvxavier/nexs-textcat/internal/archive"
	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/config"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/em"
	"github.com/fsvxavier/nexs-textcat/internal/hier"
	"github.com/fsvxavier/nexs-textcat/internal/knn"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
	"github.com/fsvxavier/nexs-textcat/internal/maxent"
	"github.com/fsvxavier/nexs-textcat/internal/naivebayes"
	"github.com/fsvxavier/nexs-textcat/internal/server"
	"github.com/fsvxavier/nexs-textcat/internal/svm"
	"github.com/fsvxavier/nexs-textcat/internal/textutil"
	"github.com/fsvxavier/nexs-textcat/internal/tfidf"
	"github.com/fsvxavier/nexs-textcat/internal/vocab"
)

// eventModelOf maps the config string onto the barrel constant.
func eventModelOf(cfg *config.Config) barrel.EventModel {
	switch cfg.EventModel {
	case "document":
		return barrel.EventDocument
	case "document-then-word":
		return barrel.EventDocumentThenWord
	default:
		return barrel.EventWord
	}
}

// nbParams translates the naive Bayes config section.
func nbParams(cfg *config.Config) (naivebayes.Params, error) {
	p := naivebayes.DefaultParams()
	p.EventModel = eventModelOf(cfg)
	p.UniformPriors = cfg.NB.UniformPriors
	p.MEstimateM = cfg.NB.MEstimateM
	p.MEstimateP = cfg.NB.MEstimateP
	if cfg.NB.GoodTuringK > 0 {
		p.GoodTuringK = cfg.NB.GoodTuringK
	}
	p.DirichletWeight = cfg.NB.DirichletWeight
	p.TargetDocLength = cfg.TargetDocLength

	switch cfg.NB.Smoothing {
	case "laplace":
		p.Smoothing = naivebayes.SmoothLaplace
	case "mestimate":
		p.Smoothing = naivebayes.SmoothMEstimate
	case "wittenbell":
		p.Smoothing = naivebayes.SmoothWittenBell
	case "goodturing":
		p.Smoothing = naivebayes.SmoothGoodTuring
	case "dirichlet":
		p.Smoothing = naivebayes.SmoothDirichlet
		alphas, err := loadDirichletAlphas(cfg.NB.DirichletFile)
		if err != nil {
			return p, err
		}
		p.DirichletAlphas = alphas
	}
	return p, nil
}

// loadDirichletAlphas reads one alpha per line, in term-id order.
func loadDirichletAlphas(path string) ([]float64, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dirichlet alphas: %w", err)
	}
	defer f.Close()
	out := []float64{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		a, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("dirichlet alphas: %w", err)
		}
		out = append(out, a)
	}
	return out, sc.Err()
}

// buildMethod assembles the configured learning method.
func buildMethod(cfg *config.Config) (barrel.Method, error) {
	nb, err := nbParams(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Method {
	case "naivebayes":
		return naivebayes.New(nb), nil

	case "tfidf":
		return tfidf.New(), nil

	case "knn":
		p := knn.DefaultParams()
		if cfg.KNN.K > 0 {
			p.K = cfg.KNN.K
		}
		if cfg.KNN.EfSearch > 0 {
			p.EfSearch = cfg.KNN.EfSearch
		}
		return knn.New(p), nil

	case "em":
		p := em.DefaultParams()
		p.NB = nb
		p.Seed = cfg.Seed
		p.NumRuns = cfg.EM.NumRuns
		p.UnlabeledNormalizer = cfg.EM.UnlabeledNormalizer
		p.LabeledForStartOnly = cfg.EM.LabeledForStartOnly
		p.Anneal = cfg.EM.Anneal
		p.Temperature = cfg.EM.Temperature
		p.TempReduction = cfg.EM.TempReduction
		p.AnnealNormalizer = cfg.EM.AnnealNormalizer
		p.ValidationFraction = cfg.EM.ValidationFraction
		p.BinaryPosClass = cfg.EM.BinaryPosClass
		p.MultiHumpNeg = cfg.EM.MultiHumpNeg
		p.Acceleration = cfg.EM.Acceleration
		switch cfg.EM.Start {
		case "even":
			p.Start = em.StartEven
		case "prior":
			p.Start = em.StartPrior
		case "random":
			p.Start = em.StartRandom
		default:
			p.Start = em.StartZero
		}
		switch cfg.EM.Perturb {
		case "gaussian":
			p.Perturb = em.PerturbGaussian
		case "dirichlet":
			p.Perturb = em.PerturbDirichlet
		}
		switch cfg.EM.Halt {
		case "perplexity":
			p.Halt = em.HaltPerplexity
			p.HaltTag = corpus.TagValidation
		case "accuracy":
			p.Halt = em.HaltAccuracy
			p.HaltTag = corpus.TagValidation
		}
		if cfg.EM.MultiHumpInit == "spread" {
			p.MultiHumpInit = em.InitSpread
		}
		return em.New(p), nil

	case "hem":
		p := hier.DefaultParams()
		p.Seed = cfg.Seed
		p.Shrinkage = cfg.HEM.Shrinkage
		p.LOO = cfg.HEM.LOO
		p.Temperature = cfg.HEM.Temperature
		p.TemperatureDecay = cfg.HEM.TemperatureDecay
		p.MaxIterations = cfg.HEM.MaxIterations
		p.Fienberg = cfg.HEM.Fienberg
		p.SplitKLThreshold = cfg.HEM.SplitKLThreshold
		p.MaxDepth = cfg.HEM.MaxDepth
		p.IncrementalLabeling = cfg.HEM.IncrementalLabeling
		if cfg.HEM.LabelsPerIteration > 0 {
			p.LabelsPerIteration = cfg.HEM.LabelsPerIteration
		}
		p.AddMisc = cfg.HEM.AddMisc
		return hier.New(p), nil

	case "maxent":
		p := maxent.DefaultParams()
		p.NumIterations = cfg.Maxent.NumIterations
		p.GaussianPrior = cfg.Maxent.GaussianPrior
		p.PriorVariance = cfg.Maxent.PriorVariance
		p.WordsPerClass = cfg.Maxent.WordsPerClass
		p.MinCount = cfg.Maxent.MinCount
		p.EventModel = eventModelOf(cfg)
		p.TargetDocLength = cfg.TargetDocLength
		switch cfg.Maxent.Constraints {
		case "logcounts":
			p.Constraints = maxent.ConstraintLogCounts
		case "smoothed":
			p.Constraints = maxent.ConstraintSmoothed
		}
		switch cfg.Maxent.PriorVary {
		case "log":
			p.PriorVary = maxent.PriorLog
		case "linear":
			p.PriorVary = maxent.PriorLinear
		}
		switch cfg.Maxent.Halt {
		case "logprob":
			p.Halt = maxent.HaltLogProb
			p.HaltTag = corpus.TagValidation
		case "accuracy":
			p.Halt = maxent.HaltAccuracy
			p.HaltTag = corpus.TagValidation
		}
		return maxent.New(p), nil

	case "svm":
		p := svm.DefaultParams()
		p.Seed = cfg.Seed
		p.C = cfg.SVM.C
		p.TransductionC = cfg.SVM.TransductionC
		p.PolyDegree = cfg.SVM.PolyDegree
		p.RBFGamma = cfg.SVM.RBFGamma
		p.EpsKKT = cfg.SVM.EpsKKT
		p.WorkingSetSize = cfg.SVM.WorkingSetSize
		p.ChunkSize = cfg.SVM.ChunkSize
		p.CacheSize = cfg.SVM.CacheSize
		p.RemoveMisclassified = cfg.SVM.RemoveMisclassified
		p.Transduce = cfg.SVM.Transduce
		p.TransducePositiveN = cfg.SVM.TransducePositiveN
		p.Bias = !cfg.SVM.NoBias
		if cfg.SVM.Pairwise {
			p.Decomposition = svm.Pairwise
		}
		switch cfg.SVM.Kernel {
		case "polynomial":
			p.Kernel = svm.KernelPolynomial
		case "rbf":
			p.Kernel = svm.KernelRBF
		case "sigmoid":
			p.Kernel = svm.KernelSigmoid
		case "fisher":
			p.Kernel = svm.KernelFisher
		}
		switch cfg.SVM.Weighting {
		case "tfidf":
			p.Weighting = svm.WeightTFIDF
		case "infogain":
			p.Weighting = svm.WeightInfogain
		}
		return svm.New(p), nil

	case "active":
		p := active.DefaultParams()
		p.Seed = cfg.Seed
		p.Rounds = cfg.Active.Rounds
		p.AddPerRound = cfg.Active.AddPerRound
		p.CommitteeSize = cfg.Active.CommitteeSize
		p.PositiveClass = cfg.Active.PositiveClass
		p.Epsilon = cfg.Active.Epsilon
		p.Remap = cfg.Active.Remap
		p.WindowSize = cfg.Active.WindowSize
		p.SecondaryEM = cfg.Active.SecondaryEM
		p.FinalEM = cfg.Active.FinalEM
		p.NB = nb
		switch cfg.Active.Criterion {
		case "relevance":
			p.Criterion = active.Relevance
		case "random":
			p.Criterion = active.Random
		case "length":
			p.Criterion = active.Length
		case "qbc":
			p.Criterion = active.QBC
		case "ve":
			p.Criterion = active.VoteEntropy
		case "wkl":
			p.Criterion = active.WeightedKL
		case "dkl":
			p.Criterion = active.DensityKL
		case "sve":
			p.Criterion = active.StreamVoteEntropy
		case "skl":
			p.Criterion = active.StreamKL
		default:
			p.Criterion = active.Uncertainty
		}
		return active.New(p), nil
	}
	return nil, fmt.Errorf("unknown method %q", cfg.Method)
}

// applyVocabControls runs the configured feature selection on a freshly
// indexed barrel.
func applyVocabControls(cfg *config.Config, b *barrel.Barrel) error {
	if cfg.Vocab.UseVocabFile != "" {
		words, err := readWordFile(cfg.Vocab.UseVocabFile)
		if err != nil {
			return err
		}
		keep := map[int]bool{}
		for w := range words {
			if wi := b.Vocab.Lookup(w); wi != vocab.NoSuchTerm {
				keep[wi] = true
			}
		}
		remap := b.Vocab.Prune(func(wi int) bool { return keep[wi] })
		b.Index.Remap(remap)
	}
	if cfg.Vocab.HideVocabFile != "" {
		words, err := readWordFile(cfg.Vocab.HideVocabFile)
		if err != nil {
			return err
		}
		for w := range words {
			if wi := b.Vocab.Lookup(w); wi != vocab.NoSuchTerm {
				b.Index.Hide(wi)
			}
		}
	}
	if cfg.Vocab.PruneByOccurCount > 0 {
		counts := b.Index.OccurCounts()
		remap := b.Vocab.PruneByOccurrenceCount(counts, cfg.Vocab.PruneByOccurCount)
		b.Index.Remap(remap)
	}
	if cfg.Vocab.PruneByDocCount > 0 {
		b.Index.HideByDocCount(cfg.Vocab.PruneByDocCount)
	}
	if cfg.Vocab.PruneByInfogain > 0 {
		kept := barrel.HideAllButTopInfogain(b, cfg.Vocab.PruneByInfogain)
		logger.Info("pruned vocabulary by infogain", "kept", len(kept))
	}
	b.ComputeWordCounts()
	return nil
}

func readWordFile(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("word file: %w", err)
	}
	defer f.Close()
	out := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		w := strings.TrimSpace(sc.Text())
		if w != "" {
			out[textutil.Normalize(w)] = true
		}
	}
	return out, sc.Err()
}

// trainAndSave runs the configured method over the indexed barrel and
// persists the archive. The run id stamped into the archive metadata also
// tags every log line of the run.
func trainAndSave(cfg *config.Config, doc *barrel.Barrel) error {
	if err := applyVocabControls(cfg, doc); err != nil {
		return err
	}
	doc.Vocab.Freeze()

	method, err := buildMethod(cfg)
	if err != nil {
		return err
	}
	doc.Method = method

	runID := uuid.NewString()
	ctx := logger.WithOperation(logger.WithRun(context.Background(), runID, cfg.Method), "index")
	logger.InfoContext(ctx, "training",
		"documents", len(doc.Docs), "terms", doc.Vocab.Size(), "classes", doc.Classes.Size())

	class, err := method.TrainClassBarrel(doc)
	if err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if err := archive.Save(expandHome(cfg.DataDir), doc, class, runID); err != nil {
		return err
	}
	logger.InfoContext(ctx, "training complete", "data_dir", cfg.DataDir)
	return nil
}

// indexDirs indexes one subdirectory per class: every regular file under
// dir/<class>/ becomes one document.
func indexDirs(cfg *config.Config, dirs []string) error {
	v := vocab.New(vocab.ModeOpen)
	b := barrel.New(v)

	for _, dir := range dirs {
		classes, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", dir, err)
		}
		for _, entry := range classes {
			if !entry.IsDir() {
				continue
			}
			class := b.Classes.Intern(entry.Name())
			classDir := filepath.Join(dir, entry.Name())
			files, err := os.ReadDir(classDir)
			if err != nil {
				return err
			}
			for _, fe := range files {
				if fe.IsDir() {
					continue
				}
				path := filepath.Join(classDir, fe.Name())
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				di := b.AddDocument(corpus.Doc{Name: path, Tag: corpus.TagTrain, Class: class})
				for tok, n := range textutil.CountTokens(string(raw)) {
					b.AddTerm(v.Add(tok), di, n)
				}
			}
		}
	}
	b.ComputeWordCounts()
	logger.Info("indexed corpus", "documents", len(b.Docs), "terms", v.Size(), "classes", b.Classes.Size())
	return trainAndSave(cfg, b)
}

// indexLines indexes one '<class> <text>' document per line.
func indexLines(cfg *config.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	v := vocab.New(vocab.ModeOpen)
	b := barrel.New(v)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		parts := strings.SplitN(sc.Text(), " ", 2)
		if len(parts) < 2 {
			continue
		}
		class := b.Classes.Intern(parts[0])
		di := b.AddDocument(corpus.Doc{
			Name:  fmt.Sprintf("%s:%d", path, lineNo),
			Tag:   corpus.TagTrain,
			Class: class,
		})
		for tok, n := range textutil.CountTokens(parts[1]) {
			b.AddTerm(v.Add(tok), di, n)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	b.ComputeWordCounts()
	return trainAndSave(cfg, b)
}

// indexMatrix indexes pre-lexed sparse rows: '<doc> <class> <word>:<count>...'.
func indexMatrix(cfg *config.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	v := vocab.New(vocab.ModeOpen)
	b := barrel.New(v)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		class := b.Classes.Intern(fields[1])
		di := b.AddDocument(corpus.Doc{Name: fields[0], Tag: corpus.TagTrain, Class: class})
		for _, cell := range fields[2:] {
			word, countStr, ok := strings.Cut(cell, ":")
			if !ok {
				return fmt.Errorf("%s: bad cell %q", path, cell)
			}
			n, err := strconv.Atoi(countStr)
			if err != nil {
				return fmt.Errorf("%s: bad count in %q: %w", path, cell, err)
			}
			b.AddTerm(v.Add(word), di, n)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	b.ComputeWordCounts()
	return trainAndSave(cfg, b)
}

// runTest evaluates the method over trials random train/test splits,
// printing the classic per-document transcript plus per-class precision,
// recall and accuracy derived from a confusion matrix.
func runTest(cfg *config.Config, trials int) error {
	a, err := archive.Load(expandHome(cfg.DataDir))
	if err != nil {
		return err
	}
	defer a.Close()
	if a.DocBarrel == nil {
		return fmt.Errorf("test: archive has no document barrel")
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+99))
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	ctx := logger.WithOperation(logger.WithRun(context.Background(), a.Meta.RunID, cfg.Method), "test")
	for trial := 0; trial < trials; trial++ {
		doc := a.DocBarrel.Clone()
		resplit(doc, cfg.Test.Percentage, rng)

		method, err := buildMethod(cfg)
		if err != nil {
			return err
		}
		doc.Method = method
		class, err := method.TrainClassBarrel(doc)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "#%d\n", trial)
		confusion := make([][]int, doc.NumClasses())
		for ci := range confusion {
			confusion[ci] = make([]int, doc.NumClasses())
		}

		it := doc.Index.Rows(doc.TagPredicate(corpus.TagTest))
		for {
			di, row, ok := it.Next()
			if !ok {
				break
			}
			scores, err := method.Score(class, row, barrel.ScoreOpts{Loose: true})
			if err != nil {
				return err
			}
			actual := doc.Docs[di].Class
			fmt.Fprintf(out, "%s %s:", doc.Docs[di].Name, doc.Classes.Name(actual))
			for i, s := range scores {
				if i > 0 {
					fmt.Fprint(out, ",")
				}
				fmt.Fprintf(out, " %s:%g", doc.Classes.Name(s.Class), s.Score)
			}
			fmt.Fprintln(out)
			if len(scores) > 0 && actual >= 0 {
				confusion[actual][scores[0].Class]++
			}
		}
		printConfusion(out, doc, confusion)
		logger.InfoContext(ctx, "trial complete", "trial", trial,
			"tested", corpus.CountTagged(doc.Docs, corpus.TagTest))
	}
	return nil
}

// resplit randomly reassigns train/test tags, holding out percentage.
func resplit(doc *barrel.Barrel, percentage int, rng *rand.Rand) {
	dis := []int{}
	for di := range doc.Docs {
		if doc.Docs[di].Tag == corpus.TagTrain || doc.Docs[di].Tag == corpus.TagTest {
			doc.Docs[di].Tag = corpus.TagTrain
			dis = append(dis, di)
		}
	}
	rng.Shuffle(len(dis), func(i, j int) { dis[i], dis[j] = dis[j], dis[i] })
	hold := len(dis) * percentage / 100
	for _, di := range dis[:hold] {
		doc.Docs[di].Tag = corpus.TagTest
	}
}

// printConfusion writes per-class precision/recall and overall accuracy
// computed from the confusion matrix; the matrix itself is not printed.
func printConfusion(w io.Writer, doc *barrel.Barrel, confusion [][]int) {
	numClasses := len(confusion)
	correct, total := 0, 0
	for ci := 0; ci < numClasses; ci++ {
		rowTotal, colTotal := 0, 0
		for cj := 0; cj < numClasses; cj++ {
			rowTotal += confusion[ci][cj]
			colTotal += confusion[cj][ci]
			total += confusion[ci][cj]
		}
		correct += confusion[ci][ci]
		recall, precision := 0.0, 0.0
		if rowTotal > 0 {
			recall = float64(confusion[ci][ci]) / float64(rowTotal)
		}
		if colTotal > 0 {
			precision = float64(confusion[ci][ci]) / float64(colTotal)
		}
		fmt.Fprintf(w, "# %s precision=%.4f recall=%.4f\n", doc.Classes.Name(ci), precision, recall)
	}
	if total > 0 {
		fmt.Fprintf(w, "# accuracy=%.4f (%d/%d)\n", float64(correct)/float64(total), correct, total)
	}
}

// runQuery classifies one document from a file or stdin.
func runQuery(cfg *config.Config, file string) error {
	a, err := archive.Load(expandHome(cfg.DataDir))
	if err != nil {
		return err
	}
	defer a.Close()

	var raw []byte
	if file != "" {
		raw, err = os.ReadFile(file)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}

	srv := server.New(a.ClassBarrel, a.Vocab, a.ClassBarrel.Method)
	row := srv.QueryRow(string(raw))
	if len(row.Entries) == 0 {
		fmt.Println(".")
		return fmt.Errorf("query has no terms in the vocabulary")
	}

	scores, err := a.ClassBarrel.Method.Score(a.ClassBarrel, row, barrel.ScoreOpts{})
	if err != nil {
		return err
	}
	if a.OutFile != "" {
		fmt.Println(a.OutFile)
	}
	for _, s := range scores {
		fmt.Printf("%s %g\n", a.ClassBarrel.Classes.Name(s.Class), s.Score)
	}
	fmt.Println(".")
	return nil
}

// runServer answers queries over TCP until interrupted.
func runServer(cfg *config.Config, port int, forking bool) error {
	a, err := archive.Load(expandHome(cfg.DataDir))
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.ClassBarrel, a.Vocab, a.ClassBarrel.Method)
	srv.OutFile = a.OutFile
	srv.Concurrent = forking

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ctx := logger.WithOperation(logger.WithRun(context.Background(), a.Meta.RunID, a.Meta.Method), "query-server")
	logger.InfoContext(ctx, "query server listening", "port", port, "forking", forking)
	return srv.Serve(ln)
}

// printWordProbabilities prints the top-N words by P(w|class) per class.
func printWordProbabilities(cfg *config.Config, topN int) error {
	a, err := archive.Load(expandHome(cfg.DataDir))
	if err != nil {
		return err
	}
	defer a.Close()
	class := a.ClassBarrel

	// Per-class totals over entry weights.
	totals := make([]float64, len(class.Docs))
	for wi := 0; wi < class.Index.NumTerms(); wi++ {
		v := class.Index.Column(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			if v.Entries[i].DI < len(totals) {
				totals[v.Entries[i].DI] += v.Entries[i].Weight
			}
		}
	}

	type wordProb struct {
		wi int
		p  float64
	}
	for ci := range class.Docs {
		probs := []wordProb{}
		for wi := 0; wi < class.Index.NumTerms(); wi++ {
			if e := class.Index.Entry(wi, ci); e != nil && totals[ci] > 0 {
				probs = append(probs, wordProb{wi: wi, p: e.Weight / totals[ci]})
			}
		}
		sort.Slice(probs, func(i, j int) bool { return probs[i].p > probs[j].p })
		if len(probs) > topN {
			probs = probs[:topN]
		}
		fmt.Printf("%s\n", class.Classes.Name(ci))
		for _, wp := range probs {
			word, _ := a.Vocab.Word(wp.wi)
			fmt.Printf("  %.6f %s\n", wp.p, word)
		}
	}
	return nil
}

// printInfogain prints the top-N words by information gain over the
// document barrel.
func printInfogain(cfg *config.Config, topN int) error {
	a, err := archive.Load(expandHome(cfg.DataDir))
	if err != nil {
		return err
	}
	defer a.Close()
	if a.DocBarrel == nil {
		return fmt.Errorf("print-word-infogain: archive has no document barrel")
	}

	gains := barrel.Infogain(a.DocBarrel)
	order := make([]int, len(gains))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return gains[order[i]] > gains[order[j]] })
	if len(order) > topN {
		order = order[:topN]
	}
	for _, wi := range order {
		word, _ := a.Vocab.Word(wi)
		fmt.Printf("%.6f %s\n", gains[wi], word)
	}
	return nil
}

// printMatrix dumps the document barrel as 'di wi count' triples.
func printMatrix(cfg *config.Config) error {
	a, err := archive.Load(expandHome(cfg.DataDir))
	if err != nil {
		return err
	}
	defer a.Close()
	if a.DocBarrel == nil {
		return fmt.Errorf("print-matrix: archive has no document barrel")
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	it := a.DocBarrel.Index.Rows(nil)
	for {
		di, row, ok := it.Next()
		if !ok {
			return nil
		}
		for i := range row.Entries {
			fmt.Fprintf(out, "%d %d %d\n", di, row.Entries[i].WI, row.Entries[i].Count)
		}
	}
}
