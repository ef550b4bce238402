package em

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/naivebayes"
)

// humpIndex maps an original class index into hump space: the positive
// class is component 0, negative humps are 1..K.
func humpIndex(ci, posCI int) int {
	if ci == posCI {
		return 0
	}
	return 1
}

// carveValidation retags a random fraction of unlabeled documents as
// validation so halting statistics are computed on held-out data.
func (m *Method) carveValidation(doc *barrel.Barrel) {
	candidates := doc.Tagged(corpus.TagUnlabeled)
	m.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	n := int(float64(len(candidates)) * m.params.ValidationFraction)
	for _, di := range candidates[:n] {
		doc.Docs[di].Tag = corpus.TagValidation
	}
}

// initLabels seeds every document's soft labels.
func (m *Method) initLabels(doc *barrel.Barrel, numOrig, numClasses, posCI int) {
	multiHump := m.params.MultiHumpNeg > 1

	// Labeled class distribution, needed by StartPrior.
	priors := make([]float64, numClasses)
	trainTotal := 0.0
	for di := range doc.Docs {
		d := &doc.Docs[di]
		if d.Tag != corpus.TagTrain || d.Class < 0 {
			continue
		}
		ci := d.Class
		if multiHump {
			ci = humpIndex(ci, posCI)
		}
		priors[ci]++
		trainTotal++
	}
	if trainTotal > 0 {
		floats.Scale(1/trainTotal, priors)
	}

	for di := range doc.Docs {
		d := &doc.Docs[di]
		switch d.Tag {
		case corpus.TagTrain:
			labels := make([]float64, numClasses)
			ci := d.Class
			if multiHump {
				ci = humpIndex(ci, posCI)
				if ci != 0 {
					m.seedHump(labels)
					d.Labels = labels
					continue
				}
			}
			if ci >= 0 && ci < numClasses {
				labels[ci] = 1
			}
			d.Labels = labels

		case corpus.TagUnlabeled:
			labels := make([]float64, numClasses)
			switch m.params.Start {
			case StartEven:
				for ci := range labels {
					labels[ci] = 1 / float64(numClasses)
				}
			case StartPrior:
				copy(labels, priors)
			case StartRandom:
				m.randomDistribution(labels)
			}
			d.Labels = labels

		default:
			d.Labels = nil
		}
	}
}

// seedHump spreads a negative document over the negative pseudo-components
// per the configured initialization.
func (m *Method) seedHump(labels []float64) {
	k := m.params.MultiHumpNeg
	if m.params.MultiHumpInit == InitSpiked {
		labels[1+m.rng.IntN(k)] = 1
		return
	}
	sum := 0.0
	for hi := 1; hi <= k; hi++ {
		labels[hi] = m.rng.Float64()
		sum += labels[hi]
	}
	if sum > 0 {
		for hi := 1; hi <= k; hi++ {
			labels[hi] /= sum
		}
	}
}

func (m *Method) randomDistribution(labels []float64) {
	sum := 0.0
	for i := range labels {
		labels[i] = m.rng.Float64()
		sum += labels[i]
	}
	if sum > 0 {
		floats.Scale(1/sum, labels)
	}
}

// buildSoftVPC folds label-weighted counts into a class barrel:
// n_{w,c} = sum_d labels_d[c] * weight_{w,d}.
func (m *Method) buildSoftVPC(doc *barrel.Barrel, numClasses, posCI int) (*barrel.Barrel, error) {
	vpc := &barrel.Barrel{
		Vocab:         doc.Vocab,
		Index:         index.New(),
		Classes:       corpus.NewClassMap(),
		Method:        m,
		IsClassBarrel: true,
	}
	if m.params.MultiHumpNeg > 1 {
		vpc.Classes.Intern(doc.Classes.Name(posCI))
		for hi := 1; hi < numClasses; hi++ {
			vpc.Classes.Intern(fmt.Sprintf("%s.hump%d", m.negClassName(doc, posCI), hi))
		}
	} else {
		vpc.Classes = doc.Classes.Clone()
	}
	for ci := 0; ci < numClasses; ci++ {
		vpc.Docs = append(vpc.Docs, corpus.Doc{
			Name:  vpc.Classes.Name(ci),
			Tag:   corpus.TagTrain,
			Class: ci,
		})
	}

	mass := make([]float64, numClasses)
	for wi := 0; wi < doc.Index.NumTerms(); wi++ {
		v := doc.Index.Column(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			e := &v.Entries[i]
			if e.DI >= len(doc.Docs) {
				continue
			}
			labels := doc.Docs[e.DI].Labels
			if labels == nil {
				continue
			}
			for ci := 0; ci < numClasses && ci < len(labels); ci++ {
				if labels[ci] <= 0 {
					continue
				}
				w := labels[ci] * e.Weight
				vpc.Index.Add(wi, ci, e.Count, w)
				mass[ci] += w
			}
		}
	}
	for ci := range vpc.Docs {
		vpc.Docs[ci].Normalizer = mass[ci]
		vpc.Docs[ci].WordCount = int(math.Round(mass[ci]))
	}
	if err := m.SetPriors(vpc, doc); err != nil {
		return nil, err
	}
	return vpc, nil
}

func (m *Method) negClassName(doc *barrel.Barrel, posCI int) string {
	for ci := 0; ci < doc.Classes.Size(); ci++ {
		if ci != posCI {
			return doc.Classes.Name(ci)
		}
	}
	return "negative"
}

// perturb resamples the class barrel's soft counts, either from a Gaussian
// with binomial variance or from a Gamma (Dirichlet) draw, then recomputes
// each class's normalizer and word count from the resampled weights.
func (m *Method) perturb(vpc *barrel.Barrel) {
	numClasses := len(vpc.Docs)
	mass := make([]float64, numClasses)

	for wi := 0; wi < vpc.Index.NumTerms(); wi++ {
		v := vpc.Index.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			e := &v.Entries[i]
			if e.DI < 0 || e.DI >= numClasses {
				continue
			}
			switch m.params.Perturb {
			case PerturbGaussian:
				if e.Weight == 0 {
					continue
				}
				total := vpc.Docs[e.DI].Normalizer
				if total <= 0 {
					continue
				}
				p := e.Weight / total
				variance := total * p * (1 - p)
				if variance <= 0 {
					continue
				}
				n := distuv.Normal{Mu: e.Weight, Sigma: math.Sqrt(variance), Src: m.rng}
				e.Weight = n.Rand()
				if e.Weight < 0 {
					e.Weight = 0
				}
			case PerturbDirichlet:
				g := distuv.Gamma{Alpha: e.Weight + 1, Beta: 1, Src: m.rng}
				e.Weight = g.Rand()
			}
			mass[e.DI] += e.Weight
		}
	}
	for ci := range vpc.Docs {
		vpc.Docs[ci].Normalizer = mass[ci]
		vpc.Docs[ci].WordCount = int(math.Round(mass[ci]))
	}
}

// eStep rewrites unlabeled documents' labels from the current model and
// returns the training log likelihood. Labeled documents keep their
// one-hot labels unless LabeledForStartOnly zeroes them after round zero.
func (m *Method) eStep(doc, vpc *barrel.Barrel, lambda, temperature float64, numClasses, posCI, run int) (float64, error) {
	ll := 0.0
	it := doc.Index.Rows(doc.TagPredicate(corpus.TagTrain, corpus.TagUnlabeled))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		d := &doc.Docs[di]
		logs, err := m.nb.ClassLogProbs(vpc, row, barrel.ScoreOpts{Loose: true})
		if err != nil {
			return 0, err
		}

		if d.Tag == corpus.TagTrain {
			ci := d.Class
			if m.params.MultiHumpNeg > 1 {
				// A positive document's likelihood is its component's;
				// negative mass spreads over the humps.
				ci = humpIndex(ci, posCI)
			}
			if ci >= 0 && ci < len(logs) {
				ll += logs[ci]
			}
			if m.params.LabeledForStartOnly && run == 0 {
				for i := range d.Labels {
					d.Labels[i] = 0
				}
			}
			if m.params.MultiHumpNeg > 1 && humpIndex(d.Class, posCI) != 0 {
				// Negative training documents re-estimate their hump mixture.
				m.writeResponsibilities(d, logs, 1, temperature, true)
			}
			continue
		}

		m.writeResponsibilities(d, logs, lambda, temperature, false)
		ll += floats.LogSumExp(logs)
	}
	return ll, nil
}

// writeResponsibilities converts per-class log scores into soft labels
// scaled by lambda, with optional annealing and over-relaxation. When
// negOnly is set, component 0 (the positive class) is frozen at zero.
func (m *Method) writeResponsibilities(d *corpus.Doc, logs []float64, lambda, temperature float64, negOnly bool) {
	scaled := make([]float64, len(logs))
	for i, l := range logs {
		scaled[i] = l / temperature
	}
	if negOnly {
		scaled[0] = math.Inf(-1)
	}
	post := naivebayes.Posterior(scaled)

	eta := m.params.Acceleration
	for ci := range d.Labels {
		if ci >= len(post) {
			break
		}
		target := post[ci] * lambda
		if eta != 1 {
			target = d.Labels[ci] + eta*(target-d.Labels[ci])
			if target < 0 {
				target = 0
			}
		}
		d.Labels[ci] = target
	}
}

// checkHalt evaluates the configured plateau criterion.
func (m *Method) checkHalt(doc, vpc *barrel.Barrel, oldPerp, oldAcc *float64) (bool, error) {
	switch m.params.Halt {
	case HaltPerplexity:
		perp, err := m.Perplexity(doc, vpc, m.params.HaltTag)
		if err != nil {
			return false, err
		}
		if perp >= *oldPerp {
			return true, nil
		}
		*oldPerp = perp
		return false, nil

	case HaltAccuracy:
		acc, err := m.Accuracy(doc, vpc, m.params.HaltTag)
		if err != nil {
			return false, err
		}
		if acc <= *oldAcc {
			return true, nil
		}
		*oldAcc = acc
		return false, nil
	}
	return false, nil
}

// Perplexity computes exp(-LL/N) over documents carrying tag.
func (m *Method) Perplexity(doc, vpc *barrel.Barrel, tag corpus.Tag) (float64, error) {
	ll := 0.0
	words := 0
	it := doc.Index.Rows(doc.TagPredicate(tag))
	for {
		_, row, ok := it.Next()
		if !ok {
			break
		}
		logs, err := m.nb.ClassLogProbs(vpc, row, barrel.ScoreOpts{Loose: true})
		if err != nil {
			return 0, err
		}
		ll += floats.LogSumExp(logs)
		words += row.WordCount()
	}
	if words == 0 {
		return math.MaxFloat64, nil
	}
	return math.Exp(-ll / float64(words)), nil
}

// Accuracy computes top-1 accuracy over documents carrying tag, judged
// against their labeled class.
func (m *Method) Accuracy(doc, vpc *barrel.Barrel, tag corpus.Tag) (float64, error) {
	correct, total := 0, 0
	it := doc.Index.Rows(doc.TagPredicate(tag))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		scores, err := m.nb.Score(vpc, row, barrel.ScoreOpts{Loose: true})
		if err != nil {
			return 0, err
		}
		if len(scores) > 0 && scores[0].Class == doc.Docs[di].Class {
			correct++
		}
		total++
	}
	if total == 0 {
		return 0, nil
	}
	return float64(correct) / float64(total), nil
}

// growNormalizer raises lambda by 1.1x per round until unlabeled label
// mass matches labeled mass.
func (m *Method) growNormalizer(doc *barrel.Barrel, lambda float64, numClasses int) float64 {
	labeled := float64(corpus.CountTagged(doc.Docs, corpus.TagTrain))
	unlabeled := float64(corpus.CountTagged(doc.Docs, corpus.TagUnlabeled))
	if unlabeled == 0 {
		return lambda
	}
	target := labeled / unlabeled
	if target > 1 {
		target = 1
	}
	if lambda == 0 {
		lambda = 0.01
	} else {
		lambda *= 1.1
	}
	if lambda > target {
		lambda = target
	}
	return lambda
}

// collapseHumps folds the hump-space class barrel back into the original
// class space: component 0 becomes the positive class, the rest merge into
// the negative class. Document labels are collapsed the same way.
func (m *Method) collapseHumps(doc, vpc *barrel.Barrel, numOrig, posCI int) *barrel.Barrel {
	negCI := 0
	for ci := 0; ci < numOrig; ci++ {
		if ci != posCI {
			negCI = ci
			break
		}
	}

	out := &barrel.Barrel{
		Vocab:         doc.Vocab,
		Index:         index.New(),
		Classes:       doc.Classes.Clone(),
		Method:        m,
		IsClassBarrel: true,
	}
	for ci := 0; ci < numOrig; ci++ {
		out.Docs = append(out.Docs, corpus.Doc{
			Name:  out.Classes.Name(ci),
			Tag:   corpus.TagTrain,
			Class: ci,
		})
	}

	for wi := 0; wi < vpc.Index.NumTerms(); wi++ {
		v := vpc.Index.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			e := &v.Entries[i]
			target := negCI
			if e.DI == 0 {
				target = posCI
			}
			out.Index.Add(wi, target, e.Count, e.Weight)
		}
	}

	for ci := range vpc.Docs {
		target := negCI
		if ci == 0 {
			target = posCI
		}
		out.Docs[target].Prior += vpc.Docs[ci].Prior
		out.Docs[target].Normalizer += vpc.Docs[ci].Normalizer
		out.Docs[target].WordCount += vpc.Docs[ci].WordCount
	}

	for di := range doc.Docs {
		labels := doc.Docs[di].Labels
		if labels == nil {
			continue
		}
		collapsed := make([]float64, numOrig)
		for hi, v := range labels {
			if hi == 0 {
				collapsed[posCI] += v
			} else {
				collapsed[negCI] += v
			}
		}
		doc.Docs[di].Labels = collapsed
	}
	return out
}
