// Package insights derives channel statistics from recent uploads: posting
// cadence, recurring title keywords and typical video length.
package insights

import (
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"
)

// Upload cadence labels.
const (
	FrequencyUnknown  = "unknown"
	FrequencyDaily    = "daily"
	FrequencySemiWeek = "2-3x/week"
	FrequencyWeekly   = "weekly"
	FrequencyBiweekly = "biweekly"
	FrequencyMonthly  = "monthly"
)

// MaxTopTags caps TopTags.
const MaxTopTags = 15

// UploadFrequency labels the average gap between consecutive publish dates.
func UploadFrequency(dates []time.Time) string {
	if len(dates) < 2 {
		return FrequencyUnknown
	}
	sorted := slices.Clone(dates)
	slices.SortFunc(sorted, func(a, b time.Time) int { return b.Compare(a) })
	var total float64
	for i := 0; i < len(sorted)-1; i++ {
		total += sorted[i].Sub(sorted[i+1]).Hours() / 24
	}
	avg := total / float64(len(sorted)-1)
	switch {
	case avg <= 1.5:
		return FrequencyDaily
	case avg <= 4:
		return FrequencySemiWeek
	case avg <= 8:
		return FrequencyWeekly
	case avg <= 16:
		return FrequencyBiweekly
	default:
		return FrequencyMonthly
	}
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the a an is it to in for of and or on at i my you your this that with how
		why what when do don't not but from be are was were will can if so no vs all just get got its about`) {
		stopWords[w] = struct{}{}
	}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)

// TopTags returns words of three or more characters that appear at least
// twice across titles, most frequent first, ignoring common stop words.
func TopTags(titles []string) []string {
	counts := map[string]int{}
	var order []string
	for _, title := range titles {
		cleaned := nonAlnum.ReplaceAllString(strings.ToLower(title), " ")
		for _, word := range strings.Fields(cleaned) {
			if len(word) < 3 {
				continue
			}
			if _, stop := stopWords[word]; stop {
				continue
			}
			if counts[word] == 0 {
				order = append(order, word)
			}
			counts[word]++
		}
	}
	tags := make([]string, 0, len(order))
	for _, w := range order {
		if counts[w] >= 2 {
			tags = append(tags, w)
		}
	}
	// Stable keeps first-seen order among equal counts.
	sort.SliceStable(tags, func(i, j int) bool { return counts[tags[i]] > counts[tags[j]] })
	if len(tags) > MaxTopTags {
		tags = tags[:MaxTopTags]
	}
	return tags
}

// AverageDuration is the rounded mean of the positive durations, in seconds.
// ok is false when there are none.
func AverageDuration(seconds []int) (int, bool) {
	sum, n := 0, 0
	for _, s := range seconds {
		if s > 0 {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return int(math.Round(float64(sum) / float64(n))), true
}
