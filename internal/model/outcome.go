package model

import "time"

// Status is the terminal classification of one scrape target.
type Status string

const (
	StatusOK                Status = "ok"
	StatusNotFound          Status = "not_found"
	StatusBlocked           Status = "blocked"
	StatusBlockedAfterRetry Status = "blocked_after_retry"
	StatusError             Status = "error"
)

// Outcome is the result of resolving a single SKU. Exactly one terminal
// Outcome is produced per target per run; StatusBlocked only appears as an
// intermediate value inside the worker loop and is converted to
// StatusBlockedAfterRetry once the retry budget is spent.
type Outcome struct {
	SKU     string `json:"sku"`
	Price   string `json:"price,omitempty"`
	Success bool   `json:"success"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Terminal reports whether the outcome may be handed back to a caller.
func (o Outcome) Terminal() bool {
	return o.Status != StatusBlocked
}

// OK builds a successful outcome.
func OK(sku, price, source string) Outcome {
	return Outcome{SKU: sku, Price: price, Success: true, Status: StatusOK, Source: source}
}

// NotFound builds an outcome for a page that loaded but carried no parsable price.
func NotFound(sku, source string) Outcome {
	return Outcome{SKU: sku, Status: StatusNotFound, Error: "price_not_found", Source: source}
}

// Blocked builds the intermediate blocked outcome for one attempt.
func Blocked(sku, source string) Outcome {
	return Outcome{SKU: sku, Status: StatusBlocked, Error: "blocked", Source: source}
}

// BlockedAfterRetry builds the terminal outcome for a target whose retry budget ran out.
func BlockedAfterRetry(sku, source string) Outcome {
	return Outcome{SKU: sku, Status: StatusBlockedAfterRetry, Error: "blocked_after_retry", Source: source}
}

// Failed builds an outcome for a navigation or driver error.
func Failed(sku, source string, err error) Outcome {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Outcome{SKU: sku, Status: StatusError, Error: msg, Source: source}
}

// Summary aggregates a result set for the synchronous API response.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Expected   int `json:"expected,omitempty"`
}

// Summarize counts successes and failures over a result set.
func Summarize(results []Outcome, expected int) Summary {
	s := Summary{Total: len(results), Expected: expected}
	for _, r := range results {
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	return s
}

// CachedPrice is a previously resolved price kept for fast-path reuse.
type CachedPrice struct {
	Price     string    `json:"price"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}
