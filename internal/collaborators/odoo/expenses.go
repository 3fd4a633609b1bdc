package odoo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// CountryStates lists the per diem destinations.
func (c *Client) CountryStates(ctx context.Context) ([]types.Option, error) {
	return cached(c, "country_states", func() ([]types.Option, error) {
		var rows []struct {
			ID   flexInt    `json:"id"`
			Name flexString `json:"name"`
		}
		if err := c.searchRead(ctx, "res.country.state", nil, []string{"id", "name"},
			map[string]any{"limit": 2000, "order": "name asc"}, &rows); err != nil {
			return nil, err
		}
		out := make([]types.Option, 0, len(rows))
		for _, r := range rows {
			if r.Name == "" {
				continue
			}
			out = append(out, types.Option{Value: fmt.Sprint(int64(r.ID)), Label: string(r.Name)})
		}
		return out, nil
	})
}

// expenseProduct resolves the expensable product behind category: by
// internal reference first, then by the label's exact name, then loosely.
func (c *Client) expenseProduct(ctx context.Context, category types.ExpenseCategory) (int64, error) {
	name := category.Label
	if i := strings.Index(name, "]"); i >= 0 {
		name = strings.TrimSpace(name[i+1:])
	}
	attempts := [][][]any{
		{cond("default_code", "=", category.Code), cond("can_be_expensed", "=", true)},
		{cond("default_code", "=", category.Code)},
		{cond("name", "=", name)},
		{cond("name", "ilike", name)},
	}
	for _, conds := range attempts {
		var rows []struct {
			ID flexInt `json:"id"`
		}
		if err := c.searchRead(ctx, "product.product", conds, []string{"id"},
			map[string]any{"limit": 1}, &rows); err != nil {
			return 0, err
		}
		if len(rows) > 0 && rows[0].ID != 0 {
			return int64(rows[0].ID), nil
		}
	}
	return 0, fmt.Errorf("%w: expense product %s", ErrNotFound, category.Code)
}

// destination resolves a per diem destination by name when the claim only
// carries the label.
func (c *Client) destination(ctx context.Context, name string) (int64, error) {
	states, err := c.CountryStates(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range states {
		if strings.EqualFold(s.Label, strings.TrimSpace(name)) {
			var id int64
			_, err := fmt.Sscan(s.Value, &id)
			return id, err
		}
	}
	return 0, fmt.Errorf("%w: destination %q", ErrNotFound, name)
}

// SubmitExpense creates an hr.expense for claim. Some databases reject per
// diem fields on create because a computed product onchange clears them;
// for those the record is created against the general product first and
// switched over in a second write.
func (c *Client) SubmitExpense(ctx context.Context, claim types.ExpenseClaim) (int64, error) {
	category, ok := types.LookupExpenseCategory(claim.Category)
	if !ok {
		return 0, fmt.Errorf("unknown expense category %q", claim.Category)
	}
	productID, err := c.expenseProduct(ctx, category)
	if err != nil {
		return 0, err
	}

	values := map[string]any{
		"employee_id":           claim.EmployeeID,
		"name":                  claim.Description,
		"total_amount_currency": claim.Amount,
		"date":                  claim.Date,
		"product_id":            productID,
	}
	if claim.CompanyID != 0 {
		values["company_id"] = claim.CompanyID
	}
	if claim.AttachedLink != "" {
		values["x_studio_attached_link"] = claim.AttachedLink
	}
	if claim.Category != types.ExpensePerDiem {
		return c.create(ctx, "hr.expense", values)
	}

	perDiem := map[string]any{
		"x_studio_from":        claim.DateFrom,
		"x_studio_to":          claim.DateTo,
		"x_studio_days_abroad": claim.DaysAbroad,
		"quantity":             claim.DaysAbroad,
	}
	dest := claim.DestinationID
	if dest == 0 && claim.DestinationName != "" {
		if dest, err = c.destination(ctx, claim.DestinationName); err != nil {
			c.log.Warn("per diem destination not resolved",
				zap.String("destination", claim.DestinationName), zap.Error(err))
		}
	}
	if dest != 0 {
		perDiem["x_studio_destination"] = dest
	}

	single := make(map[string]any, len(values)+len(perDiem))
	for k, v := range values {
		single[k] = v
	}
	for k, v := range perDiem {
		single[k] = v
	}
	id, err := c.create(ctx, "hr.expense", single)
	var rpc *RPCError
	if err == nil || !errors.As(err, &rpc) {
		return id, err
	}
	c.log.Info("per diem create rejected, retrying in two phases", zap.Error(err))
	return c.createPerDiemInTwoPhases(ctx, values, perDiem, productID)
}

func (c *Client) createPerDiemInTwoPhases(ctx context.Context, values, perDiem map[string]any, productID int64) (int64, error) {
	general, _ := types.LookupExpenseCategory(types.ExpenseMiscellaneous)
	safeID, err := c.expenseProduct(ctx, general)
	if err != nil {
		return 0, err
	}
	values["product_id"] = safeID
	id, err := c.create(ctx, "hr.expense", values)
	if err != nil {
		return 0, err
	}

	pre := map[string]any{"unit_amount": 1}
	for k, v := range perDiem {
		pre[k] = v
	}
	if err := c.write(ctx, "hr.expense", []int64{id}, pre); err != nil {
		return id, fmt.Errorf("expense %d created but per diem details failed: %w", id, err)
	}
	if err := c.write(ctx, "hr.expense", []int64{id}, map[string]any{"product_id": productID}); err != nil {
		return id, fmt.Errorf("expense %d created but product switch failed: %w", id, err)
	}
	return id, nil
}
