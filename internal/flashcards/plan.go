package flashcards

import "sort"

// Quota is how many cards of one type and difficulty a request targets.
type Quota struct {
	CardType   CardType   `json:"card_type"`
	Difficulty Difficulty `json:"difficulty"`
	Count      int        `json:"count"`
}

// Plan spreads numCards evenly over types, remainder round-robin from the
// first type, then splits each type's share over difficulties by balance.
func Plan(types []CardType, numCards int, balance Balance) []Quota {
	perType := splitEven(numCards, len(types))
	quotas := make([]Quota, 0, len(types)*len(Difficulties))
	for i, t := range types {
		perLevel := splitWeighted(perType[i], balance.Weights)
		for j, d := range Difficulties {
			quotas = append(quotas, Quota{CardType: t, Difficulty: d, Count: perLevel[j]})
		}
	}
	return quotas
}

func splitEven(n, k int) []int {
	out := make([]int, k)
	if k == 0 || n <= 0 {
		return out
	}
	for i := range out {
		out[i] = n / k
	}
	for i := 0; i < n%k; i++ {
		out[i]++
	}
	return out
}

// splitWeighted uses largest-remainder rounding; ties go to the earlier
// level.
func splitWeighted(n int, weights [3]float64) [3]int {
	var out [3]int
	if n <= 0 {
		return out
	}
	total := weights[0] + weights[1] + weights[2]
	if total <= 0 {
		weights, total = [3]float64{1, 1, 1}, 3
	}

	type rem struct {
		idx  int
		frac float64
	}
	rems := make([]rem, 0, 3)
	assigned := 0
	for i, w := range weights {
		exact := float64(n) * w / total
		out[i] = int(exact)
		assigned += out[i]
		rems = append(rems, rem{idx: i, frac: exact - float64(out[i])})
	}
	sort.SliceStable(rems, func(i, j int) bool {
		return rems[i].frac > rems[j].frac+1e-9
	})
	for i := 0; assigned < n; i++ {
		out[rems[i%3].idx]++
		assigned++
	}
	return out
}
