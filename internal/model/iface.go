package model

import "time"

// DateFilter selects which visitors a query returns by day.
type DateFilter string

const (
	DateAll    DateFilter = "all"
	DateToday  DateFilter = "today"
	DateCustom DateFilter = "custom"
)

// VisitorFilter narrows visitor queries. From and To are inclusive calendar
// days and only apply to DateCustom. Empty Country means all countries.
type VisitorFilter struct {
	Date    DateFilter
	From    time.Time
	To      time.Time
	Country string
	Limit   int
}

// VisitorQuerier provides read-only queries on stored visitors.
type VisitorQuerier interface {
	TotalVisitors() (int64, error)
	RecentVisitors(filter VisitorFilter) ([]VisitorRecord, error)
	ListCountries() ([]string, error)
	TopCountries(limit int) ([]CountryCount, error)
}

// VisitorWriter provides append-oriented writes for enriched visitors.
type VisitorWriter interface {
	InsertVisitorBatch(records []*VisitorRecord) error
}

// VisitorStore is the unified read/write contract used by the service.
type VisitorStore interface {
	VisitorQuerier
	VisitorWriter
	ClearVisitors() (int64, error)
}
