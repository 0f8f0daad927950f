package merge

import (
	"math/rand/v2"

	"github.com/nvandessel/mergeq/internal/coalition"
)

// GenerateQueues lays every vehicle of the registry out as one tag per
// vehicle, shuffles the tags uniformly and splits them at the midpoint. The
// left lane gets the first floor(n/2) vehicles.
func GenerateQueues(rng *rand.Rand, reg *coalition.Registry) (left, right []int) {
	tags := make([]int, 0, reg.TotalVehicles())
	for _, c := range reg.All() {
		for i := 0; i < c.Vehicles; i++ {
			tags = append(tags, c.ID)
		}
	}
	rng.Shuffle(len(tags), func(i, j int) { tags[i], tags[j] = tags[j], tags[i] })

	mid := len(tags) / 2
	return tags[:mid:mid], tags[mid:]
}

// reshuffle shuffles the combined contents of both lanes and re-splits them at
// the original left length, so the observation space is unchanged.
func reshuffle(rng *rand.Rand, left, right []int) ([]int, []int) {
	tags := make([]int, 0, len(left)+len(right))
	tags = append(tags, left...)
	tags = append(tags, right...)
	rng.Shuffle(len(tags), func(i, j int) { tags[i], tags[j] = tags[j], tags[i] })

	mid := len(left)
	return tags[:mid:mid], tags[mid:]
}

// sampleTrainingQueues draws lanes of the given lengths where every position
// is the ego or the opponent coalition with equal probability. A draw is
// rejected when exactly one lane lacks ego vehicles, or when either coalition
// is missing altogether. After maxAttempts rejected draws it gives up and
// reports ok=false.
func sampleTrainingQueues(rng *rand.Rand, leftLen, rightLen, maxAttempts int) (left, right []int, ok bool) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		left = sampleLane(rng, leftLen)
		right = sampleLane(rng, rightLen)

		leftHasEgo := containsTag(left, coalition.Ego)
		rightHasEgo := containsTag(right, coalition.Ego)
		if leftHasEgo != rightHasEgo {
			continue
		}
		if !leftHasEgo {
			continue
		}
		if !containsTag(left, coalition.Opponent) && !containsTag(right, coalition.Opponent) {
			continue
		}
		return left, right, true
	}
	return nil, nil, false
}

func sampleLane(rng *rand.Rand, n int) []int {
	lane := make([]int, n)
	for i := range lane {
		if rng.IntN(2) == 0 {
			lane[i] = coalition.Ego
		} else {
			lane[i] = coalition.Opponent
		}
	}
	return lane
}

func containsTag(tags []int, c int) bool {
	for _, v := range tags {
		if v == c {
			return true
		}
	}
	return false
}
