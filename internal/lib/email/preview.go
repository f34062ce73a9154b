package email

// PreviewData contains sample template data for local preview.
var PreviewData = map[string]map[string]string{
	"payment_receipt": {
		"SequenceName":     "3: dictator, ultimatum",
		"TotalPaid":        "142.50",
		"ParticipantCount": "24",
	},
}
