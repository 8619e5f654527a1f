package services

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"gorm.io/datatypes"
)

func poolQuestions(topic string, qType models.QuestionType, startID uint, n int) []*models.PoolQuestion {
	questions := make([]*models.PoolQuestion, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, &models.PoolQuestion{
			ID:     startID + uint(i),
			Type:   qType,
			Topic:  topic,
			Marks:  1,
			Active: true,
		})
	}
	return questions
}

func sectionSpec(name string, qType models.QuestionType, count int, weights map[string]interface{}) models.SectionSpec {
	return models.SectionSpec{
		Section:      name,
		QuestionType: qType,
		Count:        count,
		TopicWeights: datatypes.JSONMap(weights),
	}
}

func countByTopic(selected []*models.PoolQuestion) map[string]int {
	counts := make(map[string]int)
	for _, q := range selected {
		counts[q.Topic]++
	}
	return counts
}

func TestSelectSection_LargestRemainderTargets(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		weights map[string]interface{}
		pool    []*models.PoolQuestion
		want    map[string]int
	}{
		{
			name:    "even split",
			count:   10,
			weights: map[string]interface{}{"algebra": 1.0, "geometry": 1.0},
			pool: append(
				poolQuestions("algebra", models.QuestionObjective, 1, 10),
				poolQuestions("geometry", models.QuestionObjective, 100, 10)...,
			),
			want: map[string]int{"algebra": 5, "geometry": 5},
		},
		{
			name:    "remainder goes to largest fraction",
			count:   10,
			weights: map[string]interface{}{"algebra": 2.0, "geometry": 1.0},
			pool: append(
				poolQuestions("algebra", models.QuestionObjective, 1, 10),
				poolQuestions("geometry", models.QuestionObjective, 100, 10)...,
			),
			// 6.67 and 3.33: algebra floor 6 + leftover unit.
			want: map[string]int{"algebra": 7, "geometry": 3},
		},
		{
			name:    "three-way with ties broken by topic order",
			count:   10,
			weights: map[string]interface{}{"algebra": 1.0, "calculus": 1.0, "geometry": 1.0},
			pool: append(append(
				poolQuestions("algebra", models.QuestionObjective, 1, 10),
				poolQuestions("calculus", models.QuestionObjective, 100, 10)...),
				poolQuestions("geometry", models.QuestionObjective, 200, 10)...,
			),
			// 3.33 each, leftover unit to the first topic alphabetically.
			want: map[string]int{"algebra": 4, "calculus": 3, "geometry": 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selector := NewQuestionSelector(rand.New(rand.NewSource(42)))
			section := sectionSpec("A", models.QuestionObjective, tt.count, tt.weights)

			selected, err := selector.SelectSection(section, tt.pool)
			if err != nil {
				t.Fatalf("SelectSection() error = %v", err)
			}
			if len(selected) != tt.count {
				t.Fatalf("selected %d questions, want %d", len(selected), tt.count)
			}
			got := countByTopic(selected)
			for topic, want := range tt.want {
				if got[topic] != want {
					t.Errorf("topic %s: got %d questions, want %d", topic, got[topic], want)
				}
			}
		})
	}
}

func TestSelectSection_ShortfallRedistribution(t *testing.T) {
	// Algebra owes 5 but only has 2; the missing 3 must come from the other
	// topics proportionally to their weights.
	pool := append(append(
		poolQuestions("algebra", models.QuestionObjective, 1, 2),
		poolQuestions("calculus", models.QuestionObjective, 100, 10)...),
		poolQuestions("geometry", models.QuestionObjective, 200, 10)...,
	)
	section := sectionSpec("A", models.QuestionObjective, 10, map[string]interface{}{
		"algebra": 2.0, "calculus": 1.0, "geometry": 1.0,
	})

	selector := NewQuestionSelector(rand.New(rand.NewSource(7)))
	selected, err := selector.SelectSection(section, pool)
	if err != nil {
		t.Fatalf("SelectSection() error = %v", err)
	}
	if len(selected) != 10 {
		t.Fatalf("selected %d questions, want 10", len(selected))
	}

	got := countByTopic(selected)
	if got["algebra"] != 2 {
		t.Errorf("algebra: got %d, want its full capacity of 2", got["algebra"])
	}
	if got["calculus"]+got["geometry"] != 8 {
		t.Errorf("calculus+geometry: got %d, want 8", got["calculus"]+got["geometry"])
	}
	// Primary targets give calculus 3 (tie-break on the leftover unit) and
	// geometry 2; redistributing the shortfall of 3 with equal weights adds
	// 2 and 1 the same way.
	if got["calculus"] != 5 || got["geometry"] != 3 {
		t.Errorf("redistribution off: calculus=%d geometry=%d, want 5 and 3", got["calculus"], got["geometry"])
	}
}

func TestSelectSection_ZeroWeightTopicsAbsorbShortfall(t *testing.T) {
	// Algebra carries all the weight but only has one question; the rest must
	// come from the zero-weight topic. The redistribution pass used to hand
	// out nothing for a zero weight sum and spin forever.
	pool := append(
		poolQuestions("algebra", models.QuestionObjective, 1, 1),
		poolQuestions("geometry", models.QuestionObjective, 100, 3)...,
	)
	section := sectionSpec("A", models.QuestionObjective, 3, map[string]interface{}{
		"algebra": 1.0, "geometry": 0.0,
	})

	var selected []*models.PoolQuestion
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		selector := NewQuestionSelector(rand.New(rand.NewSource(3)))
		selected, err = selector.SelectSection(section, pool)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SelectSection() did not terminate")
	}

	if err != nil {
		t.Fatalf("SelectSection() error = %v", err)
	}
	got := countByTopic(selected)
	if got["algebra"] != 1 || got["geometry"] != 2 {
		t.Errorf("got algebra=%d geometry=%d, want 1 and 2", got["algebra"], got["geometry"])
	}
}

func TestSelectSection_InsufficientQuestions(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		weights  map[string]interface{}
		pool     []*models.PoolQuestion
		wantHave int
	}{
		{
			name:     "unweighted pool too small",
			count:    5,
			weights:  nil,
			pool:     poolQuestions("algebra", models.QuestionObjective, 1, 3),
			wantHave: 3,
		},
		{
			name:    "weighted pool exhausted after redistribution",
			count:   10,
			weights: map[string]interface{}{"algebra": 1.0, "geometry": 1.0},
			pool: append(
				poolQuestions("algebra", models.QuestionObjective, 1, 4),
				poolQuestions("geometry", models.QuestionObjective, 100, 3)...,
			),
			wantHave: 7,
		},
		{
			name:    "wrong type does not count",
			count:   3,
			weights: nil,
			pool: append(
				poolQuestions("algebra", models.QuestionObjective, 1, 2),
				poolQuestions("algebra", models.QuestionSubjective, 100, 5)...,
			),
			wantHave: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selector := NewQuestionSelector(rand.New(rand.NewSource(1)))
			section := sectionSpec("A", models.QuestionObjective, tt.count, tt.weights)

			_, err := selector.SelectSection(section, tt.pool)
			var iqErr *InsufficientQuestionsError
			if !errors.As(err, &iqErr) {
				t.Fatalf("SelectSection() error = %v, want InsufficientQuestionsError", err)
			}
			if iqErr.Need != tt.count {
				t.Errorf("Need = %d, want %d", iqErr.Need, tt.count)
			}
			if iqErr.Have != tt.wantHave {
				t.Errorf("Have = %d, want %d", iqErr.Have, tt.wantHave)
			}
		})
	}
}

func TestSelectSection_NoPartialResultOnFailure(t *testing.T) {
	pool := poolQuestions("algebra", models.QuestionObjective, 1, 3)
	section := sectionSpec("A", models.QuestionObjective, 5, nil)

	selector := NewQuestionSelector(rand.New(rand.NewSource(1)))
	selected, err := selector.SelectSection(section, pool)
	if err == nil {
		t.Fatal("SelectSection() expected error")
	}
	if selected != nil {
		t.Errorf("selected = %v, want nil on failure", selected)
	}
}

func TestSelectSection_DeterministicWithSameSeed(t *testing.T) {
	pool := append(
		poolQuestions("algebra", models.QuestionObjective, 1, 20),
		poolQuestions("geometry", models.QuestionObjective, 100, 20)...,
	)
	section := sectionSpec("A", models.QuestionObjective, 8, map[string]interface{}{
		"algebra": 3.0, "geometry": 1.0,
	})

	first, err := NewQuestionSelector(rand.New(rand.NewSource(99))).SelectSection(section, pool)
	if err != nil {
		t.Fatalf("SelectSection() error = %v", err)
	}
	second, err := NewQuestionSelector(rand.New(rand.NewSource(99))).SelectSection(section, pool)
	if err != nil {
		t.Fatalf("SelectSection() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("position %d: %d vs %d, same seed must give identical picks", i, first[i].ID, second[i].ID)
		}
	}
}

func TestSelectSection_NoDuplicates(t *testing.T) {
	pool := poolQuestions("algebra", models.QuestionObjective, 1, 10)
	section := sectionSpec("A", models.QuestionObjective, 10, nil)

	selector := NewQuestionSelector(rand.New(rand.NewSource(5)))
	selected, err := selector.SelectSection(section, pool)
	if err != nil {
		t.Fatalf("SelectSection() error = %v", err)
	}

	seen := make(map[uint]bool)
	for _, q := range selected {
		if seen[q.ID] {
			t.Errorf("question %d selected twice", q.ID)
		}
		seen[q.ID] = true
	}
}
