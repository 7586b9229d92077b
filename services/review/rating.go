package review

import "math"

// AverageRating is the mean of ratings rounded to one decimal place, or 0
// when there are none.
func AverageRating(ratings []int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	mean := float64(sum) / float64(len(ratings))
	return math.Round(mean*10) / 10
}

func validRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}
