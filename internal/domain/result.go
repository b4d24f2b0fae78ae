package domain

// MarketplaceResult is what one marketplace step reports back to the runner.
type MarketplaceResult struct {
	Marketplace Marketplace
	Fetched     int
	Excluded    int
	AlreadySent int
	Sent        int
	Failed      int
	Err         error
	Kind        ErrorKind
}

func (r MarketplaceResult) OK() bool { return r.Err == nil }

// RunSummary aggregates one run.
type RunSummary struct {
	RunID   string
	Results []MarketplaceResult
	SaveErr error
}

func (s RunSummary) TotalSent() int {
	total := 0
	for _, r := range s.Results {
		total += r.Sent
	}
	return total
}

func (s RunSummary) TotalFailed() int {
	total := 0
	for _, r := range s.Results {
		total += r.Failed
	}
	return total
}

// OK reports whether every marketplace step and the final save succeeded.
// Individual dispatch failures do not count against the run.
func (s RunSummary) OK() bool {
	if s.SaveErr != nil {
		return false
	}
	for _, r := range s.Results {
		if !r.OK() {
			return false
		}
	}
	return true
}
