package notify

import (
	"fmt"
	"strings"

	"github.com/magotmarket/payment-service/internal/domain/order"
)

// PaymentSuccess is the message sent to the customer once funds are secured.
func PaymentSuccess(o *order.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Halo %s, pembayaran untuk pesanan %s sebesar Rp%d telah kami terima.\n", o.Customer.Name, o.ID, o.GrossAmount)
	b.WriteString("Pesanan Anda sedang disiapkan oleh peternak.")
	return b.String()
}

// NewOrderForFarmer tells the farmer a paid order is waiting to be packed.
func NewOrderForFarmer(o *order.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pesanan baru %s telah dibayar:\n", o.ID)
	for _, item := range o.Items {
		fmt.Fprintf(&b, "- %s x%d\n", item.Name, item.Quantity)
	}
	fmt.Fprintf(&b, "Total Rp%d. Mohon segera dikemas.", o.GrossAmount)
	return b.String()
}

// OrderClosed is sent to the customer when an order ends without payment.
func OrderClosed(o *order.Order, status order.TransactionStatus) string {
	reason := "dibatalkan"
	if status == order.StatusExpired {
		reason = "kedaluwarsa"
	}
	return fmt.Sprintf("Halo %s, pesanan %s telah %s. Stok produk telah dikembalikan.", o.Customer.Name, o.ID, reason)
}
