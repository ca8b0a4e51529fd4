package drift

import (
	"fmt"
	"sort"
	"time"

	applogger "DriftWatch/pkg/logger"
)

// VotingPolicy reduces per-detector verdicts to one ensemble decision.
type VotingPolicy string

const (
	VoteMajority   VotingPolicy = "majority"
	VoteUnanimous  VotingPolicy = "unanimous"
	VoteConfidence VotingPolicy = "confidence"
	VoteSingle     VotingPolicy = "single"
)

// EnsembleConfig configures voting.
type EnsembleConfig struct {
	Policy              VotingPolicy `yaml:"policy"`
	ConfidenceThreshold float64      `yaml:"confidence_threshold"`
	MaxHistory          int          `yaml:"max_history"`
}

// Decision is the outcome of one ensemble update.
type Decision struct {
	Drift     bool            `json:"drift"`
	Votes     map[string]bool `json:"votes"` // responding detectors only
	Responses int             `json:"responses"`
	Positive  int             `json:"positive"`
	Method    VotingPolicy    `json:"method"`
	At        time.Time       `json:"at"`
}

// Ensemble owns a named collection of detectors and routes each incoming
// sample/error to the compatible ones. Not safe for concurrent use: the
// owning Monitor serializes all access.
type Ensemble struct {
	policy        VotingPolicy
	confThreshold float64
	maxHistory    int
	logger        *applogger.Logger

	detectors map[string]Detector

	voteCounts    map[string]int64
	history       []Decision
	lastDetection *time.Time
}

// NewEnsemble creates an ensemble. An unknown voting policy is a
// configuration error and fails construction.
func NewEnsemble(cfg EnsembleConfig, logger *applogger.Logger) (*Ensemble, error) {
	switch cfg.Policy {
	case VoteMajority, VoteUnanimous, VoteConfidence, VoteSingle:
	default:
		return nil, fmt.Errorf("drift: invalid voting policy %q", cfg.Policy)
	}
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 128
	}
	return &Ensemble{
		policy:        cfg.Policy,
		confThreshold: cfg.ConfidenceThreshold,
		maxHistory:    cfg.MaxHistory,
		logger:        logger,
		detectors:     make(map[string]Detector),
		voteCounts:    make(map[string]int64),
	}, nil
}

// AddDetector registers a detector under name. Replacing an existing name
// logs a warning.
func (e *Ensemble) AddDetector(name string, d Detector) {
	if _, exists := e.detectors[name]; exists && e.logger != nil {
		e.logger.Warn("ensemble: replacing detector", applogger.String("name", name))
	}
	e.detectors[name] = d
}

// RemoveDetector drops a detector by name.
func (e *Ensemble) RemoveDetector(name string) bool {
	if _, ok := e.detectors[name]; !ok {
		return false
	}
	delete(e.detectors, name)
	return true
}

// Update dispatches sample and error to compatible detectors and reduces
// their verdicts. A detector whose required input is absent this call is
// skipped and counts neither vote. A detector that panics is treated as
// absent for this call; the fault is logged and contained.
func (e *Ensemble) Update(sample []float64, errSignal *float64) Decision {
	dec := Decision{
		Votes:  make(map[string]bool),
		Method: e.policy,
		At:     timeNow(),
	}

	for _, name := range e.sortedNames() {
		d := e.detectors[name]
		var vote, responded bool
		switch d.Input() {
		case InputValue:
			if len(sample) > 0 {
				vote, responded = e.safeUpdate(name, d, sample)
			}
		case InputError:
			if errSignal != nil {
				vote, responded = e.safeUpdate(name, d, []float64{*errSignal})
			}
		}
		if !responded {
			continue
		}
		dec.Responses++
		dec.Votes[name] = vote
		if vote {
			dec.Positive++
			e.voteCounts[name]++
		}
	}

	dec.Drift = e.reduce(dec.Positive, dec.Responses)
	if dec.Drift {
		t := dec.At
		e.lastDetection = &t
	}

	e.history = append(e.history, dec)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}
	return dec
}

// safeUpdate runs one detector update, containing panics so one faulty
// detector cannot poison the ensemble.
func (e *Ensemble) safeUpdate(name string, d Detector, input []float64) (vote, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.Error("ensemble: detector update failed",
					applogger.String("name", name),
					applogger.Any("panic", r),
				)
			}
			vote, ok = false, false
		}
	}()
	if vd, isVec := d.(VectorDetector); isVec && len(input) > 1 {
		return vd.UpdateVector(input), true
	}
	return d.Update(input[0]), true
}

func (e *Ensemble) reduce(positive, responses int) bool {
	if responses == 0 {
		return false
	}
	switch e.policy {
	case VoteMajority:
		return positive*2 > responses
	case VoteUnanimous:
		return positive == responses
	case VoteConfidence:
		return float64(positive)/float64(responses) >= e.confThreshold
	case VoteSingle:
		return positive > 0
	}
	return false
}

// Reset restores every detector and clears ensemble-level state.
func (e *Ensemble) Reset() {
	for _, d := range e.detectors {
		d.Reset()
	}
	e.voteCounts = make(map[string]int64)
	e.history = nil
	e.lastDetection = nil
}

// EnsembleStatus summarizes the ensemble and its detectors.
type EnsembleStatus struct {
	Policy        VotingPolicy      `json:"policy"`
	Detectors     map[string]Status `json:"detectors"`
	VoteCounts    map[string]int64  `json:"vote_counts"`
	LastDetection *time.Time        `json:"last_detection,omitempty"`
	HistorySize   int               `json:"history_size"`
}

func (e *Ensemble) Status() EnsembleStatus {
	st := EnsembleStatus{
		Policy:      e.policy,
		Detectors:   make(map[string]Status, len(e.detectors)),
		VoteCounts:  make(map[string]int64, len(e.voteCounts)),
		HistorySize: len(e.history),
	}
	for name, d := range e.detectors {
		st.Detectors[name] = d.Status()
	}
	for name, n := range e.voteCounts {
		st.VoteCounts[name] = n
	}
	if e.lastDetection != nil {
		t := *e.lastDetection
		st.LastDetection = &t
	}
	return st
}

// History returns the bounded decision history, newest last.
func (e *Ensemble) History() []Decision {
	out := make([]Decision, len(e.history))
	copy(out, e.history)
	return out
}

// Size returns the number of registered detectors.
func (e *Ensemble) Size() int { return len(e.detectors) }

func (e *Ensemble) sortedNames() []string {
	names := make([]string, 0, len(e.detectors))
	for name := range e.detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
