package taskname

const (
	// Purchase tasks
	PurchaseConfirmation = "purchase:confirmation"
)
