package services

import (
	"math"
	"math/rand"
	"sort"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
)

// QuestionSelector draws questions from the active pool to fill one template
// section. All randomness flows through the injected source, so two selectors
// seeded identically over identical pools produce identical picks.
type QuestionSelector struct {
	rng *rand.Rand
}

func NewQuestionSelector(rng *rand.Rand) *QuestionSelector {
	return &QuestionSelector{rng: rng}
}

// SelectSection fills one section from the given pool candidates. With topic
// weights present, per-topic targets come from largest-remainder rounding and
// any topic shortfall is redistributed proportionally across topics that
// still have spare questions. Within a topic the draw is uniform without
// replacement. Fails with the exact gap when the pool cannot satisfy the
// section even after redistribution.
func (s *QuestionSelector) SelectSection(section models.SectionSpec, pool []*models.PoolQuestion) ([]*models.PoolQuestion, error) {
	candidates := make([]*models.PoolQuestion, 0, len(pool))
	for _, q := range pool {
		if q.Active && q.Type == section.QuestionType {
			candidates = append(candidates, q)
		}
	}

	weights := section.Weights()
	if len(weights) == 0 {
		if len(candidates) < section.Count {
			return nil, &InsufficientQuestionsError{
				Section: section.Section,
				Need:    section.Count,
				Have:    len(candidates),
			}
		}
		return s.draw(candidates, section.Count), nil
	}

	buckets := make(map[string][]*models.PoolQuestion)
	for _, q := range candidates {
		if _, weighted := weights[q.Topic]; weighted {
			buckets[q.Topic] = append(buckets[q.Topic], q)
		}
	}

	topics := make([]string, 0, len(weights))
	for topic := range weights {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	targets := largestRemainder(section.Count, topics, weights)

	// First pass: take up to the target from each topic and note shortfall.
	take := make(map[string]int, len(topics))
	shortfall := 0
	for _, topic := range topics {
		n := targets[topic]
		if have := len(buckets[topic]); n > have {
			shortfall += n - have
			n = have
		}
		take[topic] = n
	}

	// Redistribute shortfall across topics with spare questions, weighted the
	// same way as the primary allocation.
	for shortfall > 0 {
		spare := make([]string, 0, len(topics))
		spareWeights := make(map[string]float64)
		for _, topic := range topics {
			if len(buckets[topic]) > take[topic] {
				spare = append(spare, topic)
				spareWeights[topic] = weights[topic]
			}
		}
		if len(spare) == 0 {
			have := 0
			for _, topic := range topics {
				have += len(buckets[topic])
			}
			return nil, &InsufficientQuestionsError{
				Section: section.Section,
				Need:    section.Count,
				Have:    have,
			}
		}

		// When only zero-weight topics still have spare questions the weighted
		// apportionment hands out nothing and the loop would never finish.
		// Split the shortfall equally across them instead.
		spareSum := 0.0
		for _, w := range spareWeights {
			spareSum += w
		}
		if spareSum <= 0 {
			for _, topic := range spare {
				spareWeights[topic] = 1
			}
		}

		extra := largestRemainder(shortfall, spare, spareWeights)
		for _, topic := range spare {
			n := extra[topic]
			if capacity := len(buckets[topic]) - take[topic]; n > capacity {
				n = capacity
			}
			take[topic] += n
			shortfall -= n
		}
	}

	selected := make([]*models.PoolQuestion, 0, section.Count)
	for _, topic := range topics {
		selected = append(selected, s.draw(buckets[topic], take[topic])...)
	}
	s.rng.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})
	return selected, nil
}

// draw picks n questions uniformly without replacement. The input slice is
// not mutated.
func (s *QuestionSelector) draw(bucket []*models.PoolQuestion, n int) []*models.PoolQuestion {
	shuffled := make([]*models.PoolQuestion, len(bucket))
	copy(shuffled, bucket)
	s.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

// largestRemainder apportions total across topics proportionally to their
// weights. Floors are assigned first, then the leftover units go to the
// largest fractional remainders, with ties broken by topic order so the
// result is deterministic.
func largestRemainder(total int, topics []string, weights map[string]float64) map[string]int {
	sum := 0.0
	for _, topic := range topics {
		sum += weights[topic]
	}
	targets := make(map[string]int, len(topics))
	if sum <= 0 {
		return targets
	}

	type remainder struct {
		topic string
		frac  float64
	}
	remainders := make([]remainder, 0, len(topics))
	assigned := 0
	for _, topic := range topics {
		exact := float64(total) * weights[topic] / sum
		floor := int(math.Floor(exact))
		targets[topic] = floor
		assigned += floor
		remainders = append(remainders, remainder{topic: topic, frac: exact - float64(floor)})
	}

	sort.SliceStable(remainders, func(i, j int) bool {
		return remainders[i].frac > remainders[j].frac
	})
	for i := 0; i < total-assigned; i++ {
		targets[remainders[i%len(remainders)].topic]++
	}
	return targets
}
