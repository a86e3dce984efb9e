// Package pricing turns a catalog product plus a customer's selections into a
// priced line. Everything here is pure: no store, no clock, no logging.
package pricing

import (
	"fmt"
	"strings"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/models"

	"github.com/shopspring/decimal"
)

// MaxPizzaFlavors caps how many flavors share one pizza.
const MaxPizzaFlavors = 2

// Selection is what the customer picked for one cart line.
type Selection struct {
	Flavors     []string         `json:"flavors,omitempty"`
	Crust       string           `json:"crust,omitempty"`
	Complements []string         `json:"complements,omitempty"`
	Groups      []GroupSelection `json:"groups,omitempty"`
}

// GroupSelection lists picks for one açaí complement group.
type GroupSelection struct {
	Group string    `json:"group"`
	Items []ItemQty `json:"items"`
}

// ItemQty is one pick with its quantity.
type ItemQty struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

// Line is a priced cart line.
type Line struct {
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
	Description string          `json:"description"`
}

// Quote prices quantity units of product with the given selection.
func Quote(product models.Product, sel Selection, quantity int) (*Line, error) {
	if quantity < 1 {
		return nil, apperr.ErrInvalidSelection.WithMessage("quantity for %q must be at least 1", product.Name)
	}

	var (
		unit decimal.Decimal
		desc string
		err  error
	)
	switch product.Kind {
	case models.KindPlain, models.KindDrink:
		unit, desc, err = priceWithComplements(product, sel)
	case models.KindPizza:
		unit, desc, err = pricePizza(product, sel)
	case models.KindAcai:
		unit, desc, err = priceAcai(product, sel)
	default:
		return nil, apperr.ErrInvalidSelection.WithMessage("product %q has unknown kind %q", product.Name, product.Kind)
	}
	if err != nil {
		return nil, err
	}

	return &Line{
		UnitPrice:   unit,
		LineTotal:   unit.Mul(decimal.NewFromInt(int64(quantity))),
		Description: desc,
	}, nil
}

func priceWithComplements(product models.Product, sel Selection) (decimal.Decimal, string, error) {
	unit := product.Price
	labels := make([]string, 0, len(sel.Complements))
	for _, name := range sel.Complements {
		c, ok := findComplement(product.Complements, name)
		if !ok {
			return decimal.Zero, "", apperr.ErrInvalidSelection.WithMessage("complement %q is not offered for %q", name, product.Name)
		}
		unit = unit.Add(c.Price)
		labels = append(labels, "+ "+c.Name)
	}
	return unit, strings.Join(labels, ", "), nil
}

// pricePizza charges the mean of the chosen flavors plus the crust. An empty
// flavor list prices at zero; the order boundary rejects it.
func pricePizza(product models.Product, sel Selection) (decimal.Decimal, string, error) {
	if len(sel.Flavors) > MaxPizzaFlavors {
		return decimal.Zero, "", apperr.ErrInvalidSelection.WithMessage("a pizza takes at most %d flavors, got %d", MaxPizzaFlavors, len(sel.Flavors))
	}

	sum := decimal.Zero
	names := make([]string, 0, len(sel.Flavors))
	for _, name := range sel.Flavors {
		f, ok := findFlavor(product.Flavors, name)
		if !ok {
			return decimal.Zero, "", apperr.ErrInvalidSelection.WithMessage("flavor %q is not offered for %q", name, product.Name)
		}
		sum = sum.Add(f.Price)
		names = append(names, f.Name)
	}

	unit := decimal.Zero
	if len(names) > 0 {
		unit = sum.Div(decimal.NewFromInt(int64(len(names)))).Round(2)
	}

	var desc string
	switch len(names) {
	case 0:
	case 1:
		desc = names[0]
	default:
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = fmt.Sprintf("1/%d %s", len(names), n)
		}
		desc = strings.Join(parts, ", ")
	}

	if sel.Crust != "" {
		c, ok := findCrust(product.Crusts, sel.Crust)
		if !ok {
			return decimal.Zero, "", apperr.ErrInvalidSelection.WithMessage("crust %q is not offered for %q", sel.Crust, product.Name)
		}
		unit = unit.Add(c.Price)
		desc = joinNonEmpty("; ", desc, "Borda "+c.Name)
	}

	return unit, desc, nil
}

func priceAcai(product models.Product, sel Selection) (decimal.Decimal, string, error) {
	picked := make(map[string][]ItemQty, len(sel.Groups))
	for _, gs := range sel.Groups {
		g, ok := findGroup(product.ComplementGroups, gs.Group)
		if !ok {
			return decimal.Zero, "", apperr.ErrInvalidSelection.WithMessage("group %q does not exist on %q", gs.Group, product.Name)
		}
		picked[g.Name] = append(picked[g.Name], gs.Items...)
	}

	unit := product.Price
	var parts []string
	for _, g := range product.ComplementGroups {
		qtyByItem := make(map[string]int)
		var order []string
		selected := 0
		for _, pick := range picked[g.Name] {
			if pick.Qty < 1 {
				return decimal.Zero, "", apperr.ErrInvalidSelection.WithMessage("group %q: quantity for %q must be positive", g.Name, pick.Name)
			}
			item, ok := findGroupItem(g.Items, pick.Name)
			if !ok {
				return decimal.Zero, "", apperr.ErrInvalidSelection.WithMessage("group %q: item %q is not offered", g.Name, pick.Name)
			}
			if _, seen := qtyByItem[item.Name]; !seen {
				order = append(order, item.Name)
			}
			qtyByItem[item.Name] += pick.Qty
			selected += pick.Qty
			if item.MaxQty > 0 && qtyByItem[item.Name] > item.MaxQty {
				return decimal.Zero, "", apperr.ErrInvalidSelection.WithMessage("group %q: item %q allows at most %d", g.Name, item.Name, item.MaxQty)
			}
			unit = unit.Add(item.Price.Mul(decimal.NewFromInt(int64(pick.Qty))))
		}

		if selected < g.MinSelect || selected > g.MaxSelect {
			return decimal.Zero, "", apperr.ErrInvalidSelection.WithMessage("group %q requires between %d and %d selections, got %d", g.Name, g.MinSelect, g.MaxSelect, selected)
		}

		if len(order) > 0 {
			labels := make([]string, len(order))
			for i, name := range order {
				if q := qtyByItem[name]; q > 1 {
					labels[i] = fmt.Sprintf("%s x%d", name, q)
				} else {
					labels[i] = name
				}
			}
			parts = append(parts, g.Name+": "+strings.Join(labels, ", "))
		}
	}

	return unit, strings.Join(parts, "; "), nil
}

func findFlavor(flavors []models.Flavor, name string) (models.Flavor, bool) {
	for _, f := range flavors {
		if strings.EqualFold(f.Name, strings.TrimSpace(name)) {
			return f, true
		}
	}
	return models.Flavor{}, false
}

func findCrust(crusts []models.Crust, name string) (models.Crust, bool) {
	for _, c := range crusts {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return models.Crust{}, false
}

func findComplement(complements []models.Complement, name string) (models.Complement, bool) {
	for _, c := range complements {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return models.Complement{}, false
}

func findGroup(groups []models.ComplementGroup, name string) (models.ComplementGroup, bool) {
	for _, g := range groups {
		if strings.EqualFold(g.Name, strings.TrimSpace(name)) {
			return g, true
		}
	}
	return models.ComplementGroup{}, false
}

func findGroupItem(items []models.GroupItem, name string) (models.GroupItem, bool) {
	for _, it := range items {
		if strings.EqualFold(it.Name, strings.TrimSpace(name)) {
			return it, true
		}
	}
	return models.GroupItem{}, false
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
