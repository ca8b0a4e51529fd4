package drift

import (
	"testing"
)

// stubDetector votes a scripted verdict on every update.
type stubDetector struct {
	input   InputKind
	vote    bool
	panics  bool
	updates int
	verdict Verdict
}

func (s *stubDetector) Update(float64) bool {
	if s.panics {
		panic("stub detector failure")
	}
	s.updates++
	if s.vote {
		t := timeNow()
		s.verdict = Verdict{DriftDetected: true, LastDriftTime: &t}
	}
	return s.vote
}

func (s *stubDetector) Reset() {
	s.updates = 0
	s.verdict = Verdict{}
}

func (s *stubDetector) Status() Status {
	return Status{Kind: "stub", Input: s.input, Verdict: s.verdict, Samples: int64(s.updates)}
}

func (s *stubDetector) Input() InputKind { return s.input }

func newVotingEnsemble(t *testing.T, policy VotingPolicy, threshold float64) *Ensemble {
	t.Helper()
	e, err := NewEnsemble(EnsembleConfig{Policy: policy, ConfidenceThreshold: threshold}, nil)
	if err != nil {
		t.Fatalf("ensemble: %v", err)
	}
	e.AddDetector("a", &stubDetector{input: InputValue, vote: true})
	e.AddDetector("b", &stubDetector{input: InputValue, vote: true})
	e.AddDetector("c", &stubDetector{input: InputValue, vote: false})
	return e
}

func TestVotingPolicies(t *testing.T) {
	// Votes [true, true, false].
	cases := []struct {
		policy    VotingPolicy
		threshold float64
		want      bool
	}{
		{VoteMajority, 0, true},
		{VoteUnanimous, 0, false},
		{VoteConfidence, 0.7, false},
		{VoteConfidence, 0.5, true},
	}
	for _, tc := range cases {
		e := newVotingEnsemble(t, tc.policy, tc.threshold)
		dec := e.Update([]float64{1}, nil)
		if dec.Drift != tc.want {
			t.Errorf("%s@%v: drift=%v, want %v", tc.policy, tc.threshold, dec.Drift, tc.want)
		}
		if dec.Responses != 3 || dec.Positive != 2 {
			t.Errorf("%s: responses=%d positive=%d", tc.policy, dec.Responses, dec.Positive)
		}
	}
}

func TestVoteSinglePassthrough(t *testing.T) {
	e, err := NewEnsemble(EnsembleConfig{Policy: VoteSingle}, nil)
	if err != nil {
		t.Fatalf("ensemble: %v", err)
	}
	d := &stubDetector{input: InputValue}
	e.AddDetector("only", d)
	if dec := e.Update([]float64{1}, nil); dec.Drift {
		t.Fatal("no-vote detector must not drift")
	}
	d.vote = true
	if dec := e.Update([]float64{1}, nil); !dec.Drift {
		t.Fatal("single detector verdict must pass through")
	}
}

func TestInvalidVotingPolicy(t *testing.T) {
	if _, err := NewEnsemble(EnsembleConfig{Policy: "plurality"}, nil); err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestEnsembleRoutesByInputKind(t *testing.T) {
	e, err := NewEnsemble(EnsembleConfig{Policy: VoteMajority}, nil)
	if err != nil {
		t.Fatalf("ensemble: %v", err)
	}
	val := &stubDetector{input: InputValue, vote: true}
	errD := &stubDetector{input: InputError, vote: true}
	e.AddDetector("value", val)
	e.AddDetector("error", errD)

	// No error signal: the error detector is skipped and counts no vote.
	dec := e.Update([]float64{1}, nil)
	if dec.Responses != 1 {
		t.Fatalf("responses=%d, want 1", dec.Responses)
	}
	if errD.updates != 0 {
		t.Fatal("error detector must not see value-only updates")
	}

	one := 1.0
	dec = e.Update(nil, &one)
	if dec.Responses != 1 {
		t.Fatalf("responses=%d, want 1", dec.Responses)
	}
	if val.updates != 1 {
		t.Fatalf("value detector updates=%d, want 1", val.updates)
	}
}

func TestEnsembleContainsDetectorPanic(t *testing.T) {
	e, err := NewEnsemble(EnsembleConfig{Policy: VoteMajority}, nil)
	if err != nil {
		t.Fatalf("ensemble: %v", err)
	}
	e.AddDetector("bad", &stubDetector{input: InputValue, panics: true})
	e.AddDetector("good", &stubDetector{input: InputValue, vote: true})

	dec := e.Update([]float64{1}, nil)
	if dec.Responses != 1 {
		t.Fatalf("faulty detector should count as absent, responses=%d", dec.Responses)
	}
	if !dec.Drift {
		t.Fatal("healthy detector verdict should decide")
	}
}

func TestEnsembleVoteCountsMonotonic(t *testing.T) {
	e := newVotingEnsemble(t, VoteMajority, 0)
	for i := 0; i < 5; i++ {
		e.Update([]float64{1}, nil)
	}
	st := e.Status()
	if st.VoteCounts["a"] != 5 || st.VoteCounts["b"] != 5 {
		t.Fatalf("vote counts: %v", st.VoteCounts)
	}
	if _, ok := st.VoteCounts["c"]; ok && st.VoteCounts["c"] != 0 {
		t.Fatalf("non-voter counted: %v", st.VoteCounts)
	}
	if st.LastDetection == nil {
		t.Fatal("last detection not recorded")
	}
}

func TestEnsembleAddRemoveDetector(t *testing.T) {
	e := newVotingEnsemble(t, VoteMajority, 0)
	if !e.RemoveDetector("c") {
		t.Fatal("remove existing detector failed")
	}
	if e.RemoveDetector("c") {
		t.Fatal("remove of absent detector should report false")
	}
	if e.Size() != 2 {
		t.Fatalf("size=%d, want 2", e.Size())
	}
	// Replacing an existing name is allowed (logged as a warning).
	e.AddDetector("a", &stubDetector{input: InputValue})
	if e.Size() != 2 {
		t.Fatalf("size=%d after replace, want 2", e.Size())
	}
}

func TestEnsembleHistoryBounded(t *testing.T) {
	e, err := NewEnsemble(EnsembleConfig{Policy: VoteMajority, MaxHistory: 10}, nil)
	if err != nil {
		t.Fatalf("ensemble: %v", err)
	}
	e.AddDetector("a", &stubDetector{input: InputValue})
	for i := 0; i < 50; i++ {
		e.Update([]float64{1}, nil)
	}
	if n := len(e.History()); n != 10 {
		t.Fatalf("history size=%d, want 10", n)
	}
}

func TestEnsembleReset(t *testing.T) {
	e := newVotingEnsemble(t, VoteMajority, 0)
	e.Update([]float64{1}, nil)
	e.Reset()
	st := e.Status()
	if len(st.VoteCounts) != 0 || st.LastDetection != nil || st.HistorySize != 0 {
		t.Fatalf("reset left state: %+v", st)
	}
	for name, ds := range st.Detectors {
		if ds.Verdict.DriftDetected {
			t.Fatalf("detector %s not reset", name)
		}
	}
}
