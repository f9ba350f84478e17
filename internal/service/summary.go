package service

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"rental-service/internal/models"

	"github.com/shopspring/decimal"
)

const summaryTimeLayout = "02.01.2006 15:04"

// rentalDays bills every started 24 hours as a day, with a minimum of one
func rentalDays(start, end time.Time) int {
	days := int(math.Ceil(end.Sub(start).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

// lineCost is quantity x days x daily price
func lineCost(line models.OrderLine, product *models.Product) decimal.Decimal {
	if product == nil {
		return decimal.Zero
	}
	days := decimal.NewFromInt(int64(rentalDays(line.StartAt, line.EndAt)))
	return product.DailyPrice.Mul(days).Mul(decimal.NewFromInt(int64(line.Quantity)))
}

// orderTotal sums the cost of every line
func orderTotal(lines []models.OrderLine, products map[int64]*models.Product) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(lineCost(line, products[line.ProductID]))
	}
	return total
}

// buildSummary renders the operator-facing message in Telegram HTML
func buildSummary(order *models.Order, lines []models.OrderLine, products map[int64]*models.Product) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>Order #%d</b>\n", order.ID)
	fmt.Fprintf(&b, "Customer: %s\n", html.EscapeString(order.CustomerName))
	fmt.Fprintf(&b, "Phone: %s\n", html.EscapeString(order.CustomerPhone))
	if order.CustomerEmail != "" {
		fmt.Fprintf(&b, "Email: %s\n", html.EscapeString(order.CustomerEmail))
	}
	if order.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", html.EscapeString(order.Address))
	}
	if order.Comment != "" {
		fmt.Fprintf(&b, "Comment: %s\n", html.EscapeString(order.Comment))
	}
	b.WriteString("\n")

	for i, line := range lines {
		name := fmt.Sprintf("product %d", line.ProductID)
		product := products[line.ProductID]
		if product != nil {
			name = product.Name
		}
		days := rentalDays(line.StartAt, line.EndAt)
		fmt.Fprintf(&b, "%d. %s x%d\n", i+1, html.EscapeString(name), line.Quantity)
		fmt.Fprintf(&b, "   %s - %s (%d %s)\n",
			line.StartAt.Format(summaryTimeLayout),
			line.EndAt.Format(summaryTimeLayout),
			days, plural(days, "day", "days"))
		if product != nil {
			fmt.Fprintf(&b, "   %d x %d x %s = %s\n",
				line.Quantity, days, product.DailyPrice.StringFixed(2), lineCost(line, product).StringFixed(2))
		}
	}

	fmt.Fprintf(&b, "\n<b>Total: %s</b>", orderTotal(lines, products).StringFixed(2))
	return b.String()
}

// resolutionText appends the outcome of a resolution attempt to the summary
func resolutionText(summary string, result *ResolveResult) string {
	switch result.Outcome {
	case OutcomeAccepted:
		return summary + "\n\nACCEPTED"
	case OutcomeDeclined:
		return summary + "\n\nDECLINED"
	case OutcomeInsufficientCapacity:
		return fmt.Sprintf("%s\n\nCannot accept: insufficient capacity (%s). The order is still pending.",
			summary, result.Shortage.String())
	default:
		return summary + "\n\nStatus: " + result.Status
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
