package models

import (
	"net/url"
	"strings"
	"time"
)

type NotificationType string

const (
	NotificationNew         NotificationType = "new"
	NotificationPriceDrop   NotificationType = "price_drop"
	NotificationPriceChange NotificationType = "price_change"
)

// Listing is a raw record extracted from a search result page.
type Listing struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Price         string    `json:"price"`
	Location      string    `json:"location"`
	Details       string    `json:"details"`
	Link          string    `json:"link"`
	PriceDropped  bool      `json:"price_dropped"`
	PriceDropText string    `json:"price_drop_text,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Complete reports whether the listing carries the fields needed for diffing.
func (l *Listing) Complete() bool {
	return l.ID != "" && l.Price != "" && l.Title != "" && l.Location != ""
}

// Change is a classified difference between a fetched listing and its snapshot.
type Change struct {
	Type     NotificationType
	Listing  Listing
	OldPrice string
}

// Query describes what a fetcher should request.
type Query struct {
	URL    string
	Params map[string]string
}

// Key is a stable identity used to decide whether a cached fetcher is still valid.
func (q Query) Key() string {
	if len(q.Params) == 0 {
		return q.URL
	}
	values := url.Values{}
	for k, v := range q.Params {
		values.Set(k, v)
	}
	return q.URL + "?" + values.Encode()
}

func (q Query) String() string {
	return strings.TrimSuffix(q.Key(), "?")
}
