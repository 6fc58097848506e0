package themes

// DBSCAN over cosine distance, used only to estimate how many distinct
// narrative patterns the findings corpus contains.
const (
	dbscanEps        = 0.3
	dbscanMinSamples = 2
	noiseLabel       = -1
)

// dbscan labels each vector with a cluster index, or noiseLabel for points
// with no dense neighborhood. Label values are 0..clusters-1.
func dbscan(vectors []vector, eps float64, minSamples int) []int {
	labels := make([]int, len(vectors))
	for i := range labels {
		labels[i] = noiseLabel
	}

	visited := make([]bool, len(vectors))
	cluster := 0
	for i := range vectors {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(vectors, i, eps)
		if len(neighbors) < minSamples {
			continue
		}

		labels[i] = cluster
		// Expand the cluster breadth-first over density-reachable points.
		for qi := 0; qi < len(neighbors); qi++ {
			p := neighbors[qi]
			if !visited[p] {
				visited[p] = true
				next := regionQuery(vectors, p, eps)
				if len(next) >= minSamples {
					neighbors = append(neighbors, next...)
				}
			}
			if labels[p] == noiseLabel {
				labels[p] = cluster
			}
		}
		cluster++
	}
	return labels
}

// regionQuery returns the indexes within eps of point i, including i itself.
func regionQuery(vectors []vector, i int, eps float64) []int {
	var neighbors []int
	for j := range vectors {
		if cosineDistance(vectors[i], vectors[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

// clusterCount returns the number of clusters in a label slice.
func clusterCount(labels []int) int {
	max := -1
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	return max + 1
}
