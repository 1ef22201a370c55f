package engine

// HotwordDetector is a stateful wake-word classifier. Grounded on
// original_source's hotword_detector.py (HotwordDetector.get_scores/reset
// wrapping an openWakeWord Model). The concrete neural model is out of
// scope; callers supply an implementation.
//
// GetScores must be called with every frame the caller wants folded into
// the model's recognition context, including frames captured while an
// utterance is being recorded elsewhere in the pipeline — skipping frames
// drifts the model's internal history and degrades future detections.
type HotwordDetector interface {
	GetScores(frame []byte) (map[string]float64, error)
	Reset()
}

// NullScorer is a deterministic HotwordDetector test double: it returns a
// programmed score for a fixed word on each call, holding at the last
// programmed score once they are exhausted (always zero when none were
// programmed).
type NullScorer struct {
	Word    string
	Scores  []float64
	calls   int
}

// NewNullScorer builds a scorer that yields scores[i] on the i-th call to
// GetScores, holding at the last value once exhausted.
func NewNullScorer(word string, scores ...float64) *NullScorer {
	return &NullScorer{Word: word, Scores: scores}
}

func (s *NullScorer) GetScores(_ []byte) (map[string]float64, error) {
	score := 0.0
	if len(s.Scores) > 0 {
		idx := s.calls
		if idx >= len(s.Scores) {
			idx = len(s.Scores) - 1
		}
		score = s.Scores[idx]
	}
	s.calls++
	return map[string]float64{s.Word: score}, nil
}

func (s *NullScorer) Reset() {
	s.calls = 0
}
