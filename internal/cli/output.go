package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to w
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case PlayerResult:
		fmt.Fprintf(o.w, "Player: %s (%d)\n", v.Nickname, v.ID)
		fmt.Fprintf(o.w, "Credits: %d\n", v.Credits)
	case ItemList:
		o.printItems(v.Items)
	case InventoryResult:
		o.printItems(v.Items)
		fmt.Fprintf(o.w, "Credits: %d\n", v.Credits)
	case CreditsResult:
		fmt.Fprintf(o.w, "Credits: %d\n", v.Credits)
	case StatusResult:
		fmt.Fprintf(o.w, "Status: %s\n", v.Status)
		if v.Credits != nil {
			fmt.Fprintf(o.w, "Credits: %d\n", *v.Credits)
		}
	case PlayerDetail:
		fmt.Fprintf(o.w, "Player: %s (%d)\n", v.Nickname, v.ID)
		fmt.Fprintf(o.w, "Credits: %d\n", v.Credits)
		o.printItems(v.Items)
	case HealthResult:
		fmt.Fprintf(o.w, "Status: %s\n", v.Status)
		fmt.Fprintf(o.w, "Sessions: %d\n", v.Sessions)
	default:
		o.printJSON(data)
	}
}

func (o *Output) printItems(items []Item) {
	if len(items) == 0 {
		fmt.Fprintln(o.w, "No items")
		return
	}
	fmt.Fprintf(o.w, "Items (%d):\n", len(items))
	for _, item := range items {
		fmt.Fprintf(o.w, "  %3d  %-12s %6d", item.ID, item.Name, item.Price)
		if item.Description != "" {
			fmt.Fprintf(o.w, "  %s", item.Description)
		}
		fmt.Fprintln(o.w)
	}
}

// Item is a catalog entry as returned by the server
type Item struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description,omitempty"`
}

// PlayerResult answers login
type PlayerResult struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	Credits  int64  `json:"credits"`
}

// ItemList answers get items and the catalog listing
type ItemList struct {
	Items []Item `json:"items"`
}

// InventoryResult answers get inventory
type InventoryResult struct {
	Items   []Item `json:"items"`
	Credits int64  `json:"credits"`
}

// CreditsResult answers get credits
type CreditsResult struct {
	Credits int64 `json:"credits"`
}

// StatusResult answers buy, sell and bet
type StatusResult struct {
	Status  string `json:"status"`
	Credits *int64 `json:"credits,omitempty"`
}

// PlayerDetail is the HTTP player view
type PlayerDetail struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	Credits  int64  `json:"credits"`
	Items    []Item `json:"items"`
}

// HealthResult response type
type HealthResult struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}
