package pricing

import (
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/models"
)

// ValidateProduct checks that a catalog definition can be priced.
func ValidateProduct(p models.Product) error {
	if p.ID == "" || p.Name == "" {
		return apperr.ErrInvalidRequest.WithMessage("product id and name are required")
	}
	if !p.Kind.Valid() {
		return apperr.ErrInvalidRequest.WithMessage("product %q has unknown kind %q", p.Name, p.Kind)
	}
	if p.Price.IsNegative() {
		return apperr.ErrInvalidRequest.WithMessage("product %q has a negative price", p.Name)
	}

	switch p.Kind {
	case models.KindPizza:
		if len(p.Flavors) == 0 {
			return apperr.ErrInvalidRequest.WithMessage("pizza %q needs at least one flavor", p.Name)
		}
		for _, f := range p.Flavors {
			if f.Name == "" || f.Price.IsNegative() {
				return apperr.ErrInvalidRequest.WithMessage("pizza %q has an invalid flavor", p.Name)
			}
		}
		for _, c := range p.Crusts {
			if c.Name == "" || c.Price.IsNegative() {
				return apperr.ErrInvalidRequest.WithMessage("pizza %q has an invalid crust", p.Name)
			}
		}
	case models.KindAcai:
		for _, g := range p.ComplementGroups {
			if g.Name == "" || g.MinSelect < 0 || g.MinSelect > g.MaxSelect {
				return apperr.ErrInvalidRequest.WithMessage("açaí %q has invalid bounds on group %q", p.Name, g.Name)
			}
			for _, it := range g.Items {
				if it.Name == "" || it.Price.IsNegative() || it.MaxQty < 0 {
					return apperr.ErrInvalidRequest.WithMessage("açaí %q has an invalid item in group %q", p.Name, g.Name)
				}
			}
		}
	default:
		for _, c := range p.Complements {
			if c.Name == "" || c.Price.IsNegative() {
				return apperr.ErrInvalidRequest.WithMessage("product %q has an invalid complement", p.Name)
			}
		}
	}
	return nil
}
