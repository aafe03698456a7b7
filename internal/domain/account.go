package domain

// Account is the balance an identity can spend on tickets.
type Account struct {
	Identity Identity `json:"identity"`
	Balance  int64    `json:"balance"`
}
