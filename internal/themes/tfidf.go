package themes

import (
	"math"
	"strings"
)

// vector is a sparse TF-IDF document vector keyed by vocabulary index.
type vector map[int]float64

// vectorize builds normalized TF-IDF vectors for the documents. The
// vocabulary is whatever terms the corpus contains; no stemming, mirroring
// the lexical (not semantic) matching used elsewhere in the pipeline.
func vectorize(docs []string) []vector {
	vocab := map[string]int{}
	tokenized := make([][]string, len(docs))
	df := map[int]int{}
	for i, doc := range docs {
		seen := map[int]bool{}
		for _, w := range termsOf(doc) {
			idx, ok := vocab[w]
			if !ok {
				idx = len(vocab)
				vocab[w] = idx
			}
			tokenized[i] = append(tokenized[i], w)
			if !seen[idx] {
				seen[idx] = true
				df[idx]++
			}
		}
	}

	n := float64(len(docs))
	vectors := make([]vector, len(docs))
	for i, terms := range tokenized {
		v := vector{}
		for _, w := range terms {
			v[vocab[w]]++
		}
		var norm float64
		for idx, tf := range v {
			idf := math.Log(n/(1+float64(df[idx]))) + 1
			w := (tf / float64(len(terms))) * idf
			v[idx] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for idx := range v {
				v[idx] /= norm
			}
		}
		vectors[i] = v
	}
	return vectors
}

func termsOf(doc string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(doc)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

// cosineDistance is 1 - cosine similarity. Vectors are already normalized so
// similarity is the plain dot product.
func cosineDistance(a, b vector) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var dot float64
	for idx, w := range small {
		dot += w * large[idx]
	}
	return 1 - dot
}
