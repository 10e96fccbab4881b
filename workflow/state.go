package workflow

// State is a step of the per-target UI sequence.
type State int

const (
	StateInit State = iota
	StateSearchOpened
	StateCompanySearched
	StateEntityDisambiguated
	StateEntitySelected
	StateRangeSet
	StatePaginating
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:                "init",
	StateSearchOpened:        "search_opened",
	StateCompanySearched:     "company_searched",
	StateEntityDisambiguated: "entity_disambiguated",
	StateEntitySelected:      "entity_selected",
	StateRangeSet:            "range_set",
	StatePaginating:          "paginating",
	StateDone:                "done",
	StateFailed:              "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
