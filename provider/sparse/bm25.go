package sparse

import "math"

// BM25 Okapi parameters.
const (
	DefaultK1      = 1.5
	DefaultB       = 0.75
	DefaultEpsilon = 0.25
)

// Index is an immutable BM25 Okapi index over a tokenized corpus.
type Index struct {
	k1, b, epsilon float64

	docLens  []int
	avgLen   float64
	termFreq []map[string]int
	idf      map[string]float64
}

// NewIndex builds an index over corpus, one token slice per document.
// Terms whose idf would be negative (present in more than half the corpus)
// get epsilon times the mean positive idf instead, so they still count a
// little without outweighing rare terms.
func NewIndex(corpus [][]string, k1, b, epsilon float64) *Index {
	idx := &Index{
		k1:       k1,
		b:        b,
		epsilon:  epsilon,
		docLens:  make([]int, len(corpus)),
		termFreq: make([]map[string]int, len(corpus)),
		idf:      make(map[string]float64),
	}

	docFreq := make(map[string]int)
	total := 0
	for i, doc := range corpus {
		idx.docLens[i] = len(doc)
		total += len(doc)
		tf := make(map[string]int, len(doc))
		for _, term := range doc {
			tf[term]++
		}
		idx.termFreq[i] = tf
		for term := range tf {
			docFreq[term]++
		}
	}
	if len(corpus) > 0 {
		idx.avgLen = float64(total) / float64(len(corpus))
	}

	n := float64(len(corpus))
	var positiveSum float64
	var positive int
	var negative []string
	for term, df := range docFreq {
		v := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idx.idf[term] = v
		if v > 0 {
			positiveSum += v
			positive++
		} else if v < 0 {
			negative = append(negative, term)
		}
	}
	floor := epsilon
	if positive > 0 {
		floor = epsilon * positiveSum / float64(positive)
	}
	for _, term := range negative {
		idx.idf[term] = floor
	}
	return idx
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	return len(idx.docLens)
}

// Scores returns the BM25 score of every document for query, in corpus order.
func (idx *Index) Scores(query []string) []float64 {
	scores := make([]float64, len(idx.docLens))
	if idx.avgLen == 0 {
		return scores
	}
	for _, term := range query {
		idf, ok := idx.idf[term]
		if !ok {
			continue
		}
		for i, tf := range idx.termFreq {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			norm := idx.k1 * (1 - idx.b + idx.b*float64(idx.docLens[i])/idx.avgLen)
			scores[i] += idf * f * (idx.k1 + 1) / (f + norm)
		}
	}
	return scores
}
