package email

// SendPaymentReceipt sends the experimenter a receipt after a
// sequence's payouts were processed.
func (c *Client) SendPaymentReceipt(to, sequenceName, totalPaid string, participantCount string) error {
	data := map[string]string{
		"SequenceName":     sequenceName,
		"TotalPaid":        totalPaid,
		"ParticipantCount": participantCount,
	}

	return c.SendEmail(
		to,
		"Payments sent for "+sequenceName,
		TemplatePaymentReceipt,
		data,
	)
}
