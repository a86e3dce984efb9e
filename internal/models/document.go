package models

import (
	"encoding/json"
	"fmt"
)

// Document is the whole persisted state: every tenant, plan, invoice and order.
// Revision is bumped by the store on each successful save.
type Document struct {
	Revision    int64        `json:"revision"`
	Restaurants []Restaurant `json:"restaurants"`
	Plans       []Plan       `json:"plans"`
	Invoices    []Invoice    `json:"invoices"`
	Orders      []Order      `json:"orders"`
}

// Restaurant returns a pointer into the document, or nil
func (d *Document) Restaurant(slug string) *Restaurant {
	for i := range d.Restaurants {
		if d.Restaurants[i].Slug == slug {
			return &d.Restaurants[i]
		}
	}
	return nil
}

// Plan returns a pointer into the document, or nil
func (d *Document) Plan(id string) *Plan {
	for i := range d.Plans {
		if d.Plans[i].ID == id {
			return &d.Plans[i]
		}
	}
	return nil
}

// InvoiceByExternalID returns the invoice correlated to a checkout session, or nil
func (d *Document) InvoiceByExternalID(externalID string) *Invoice {
	if externalID == "" {
		return nil
	}
	for i := range d.Invoices {
		if d.Invoices[i].ExternalID == externalID {
			return &d.Invoices[i]
		}
	}
	return nil
}

// Order returns a pointer into the document, or nil
func (d *Document) Order(id string) *Order {
	for i := range d.Orders {
		if d.Orders[i].ID == id {
			return &d.Orders[i]
		}
	}
	return nil
}

// OrderByIdempotencyKey finds an order previously created with key for the tenant
func (d *Document) OrderByIdempotencyKey(slug, key string) *Order {
	if key == "" {
		return nil
	}
	for i := range d.Orders {
		if d.Orders[i].RestaurantSlug == slug && d.Orders[i].IdempotencyKey == key {
			return &d.Orders[i]
		}
	}
	return nil
}

// SubscriberCount counts restaurants subscribed to planID
func (d *Document) SubscriberCount(planID string) int {
	n := 0
	for _, r := range d.Restaurants {
		if r.SubscribedPlanID != nil && *r.SubscribedPlanID == planID {
			n++
		}
	}
	return n
}

// PlanHasPaidInvoice reports whether a paid invoice references planID
func (d *Document) PlanHasPaidInvoice(planID string) bool {
	for _, inv := range d.Invoices {
		if inv.PlanID == planID && inv.Status == InvoicePaid {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (d *Document) Clone() (*Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &out, nil
}
