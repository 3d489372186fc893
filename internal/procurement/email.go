package procurement

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// BuildOrderEmail renders the vendor-facing purchase order mail. Plain text
// on purpose; vendors read these in every client imaginable.
func BuildOrderEmail(po PurchaseOrder, items []PurchaseOrderItem, contact VendorContact) (subject, body string) {
	p := message.NewPrinter(language.English)
	unit := currency.USD

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", contact.Name)
	fmt.Fprintf(&b, "Please find purchase order %s below.\n\n", po.Number)

	var total float64
	for _, it := range items {
		lineTotal := it.OrderedQty * it.UnitPrice
		total += lineTotal
		fmt.Fprintf(&b, "  material #%d  qty %v  @ %s  = %s\n",
			it.MaterialID, it.OrderedQty,
			p.Sprint(unit.Amount(it.UnitPrice)),
			p.Sprint(unit.Amount(lineTotal)))
	}
	fmt.Fprintf(&b, "\nOrder total: %s\n", p.Sprint(unit.Amount(total)))
	if po.ExpectedDelivery != nil {
		fmt.Fprintf(&b, "Expected delivery: %s\n", po.ExpectedDelivery.Format("2006-01-02"))
	}
	if po.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", po.Notes)
	}
	b.WriteString("\nKind regards,\nLodestar Procurement\n")

	return fmt.Sprintf("Purchase Order %s", po.Number), b.String()
}
