package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

const (
	subjectCustomer = "Order Confirmation"
	subjectAdmin    = "New Order Received"
)

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`
{{- if .ForAdmin }}<h2>New Order Received</h2>
<p>Order {{ .OrderID }} was placed by {{ .Name }} ({{ .Email }}{{ if .Phone }}, {{ .Phone }}{{ end }}).</p>
{{- else }}<h2>Order Confirmation</h2>
<p>Dear {{ .Name }},</p>
<p>Thank you for your order! Your order will be delivered within 1 day.</p>
{{- end }}
<h3>Order Details:</h3>
<ul>
{{- range .Lines }}
<li>{{ .Name }} - Qty: {{ .Quantity }} - Price: ${{ .Subtotal }}</li>
{{- end }}
</ul>
<p><strong>Total Price: ${{ .Total }}</strong></p>
<p>Delivery Address: {{ .Street }}, {{ .City }}</p>
`))

type confirmationLine struct {
	Name     string
	Quantity int
	Subtotal string
}

type confirmationData struct {
	ForAdmin bool
	OrderID  string
	Name     string
	Email    string
	Phone    string
	Street   string
	City     string
	Lines    []confirmationLine
	Total    string
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// lineSubtotal multiplies in decimal so 0.1 x 3 prints as 0.30.
func lineSubtotal(item order.LineItem) string {
	return decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity))).StringFixed(2)
}

func renderConfirmation(o *order.Order, forAdmin bool) (string, error) {
	data := confirmationData{
		ForAdmin: forAdmin,
		OrderID:  o.ID.String(),
		Name:     o.Name,
		Email:    o.Email,
		Phone:    o.Phone,
		Street:   o.Street,
		City:     o.City,
		Lines:    make([]confirmationLine, 0, len(o.Cart)),
		Total:    money(o.TotalPrice),
	}
	for _, item := range o.Cart {
		data.Lines = append(data.Lines, confirmationLine{
			Name:     item.Name,
			Quantity: item.Quantity,
			Subtotal: lineSubtotal(item),
		})
	}

	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("notify: failed to render confirmation: %w", err)
	}
	return buf.String(), nil
}
