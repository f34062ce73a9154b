package email

// Template names an embedded email template.
type Template string

const (
	// TemplatePaymentReceipt corresponds to templates/payment_receipt.html
	TemplatePaymentReceipt Template = "payment_receipt"
)
