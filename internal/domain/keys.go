package domain

// Ledger key schema. Every key is '/'-separated so that a prefix scan over
// "invitation/{market}/" yields exactly one market's invitations.
const (
	PrefixMarket     = "market/"
	PrefixInvitation = "invitation/"
	PrefixPool       = "pool/"
	PrefixSubmission = "submission/"
	PrefixSettlement = "settlement/"
	PrefixAccount    = "account/"
)

func MarketKey(id string) string     { return PrefixMarket + id }
func PoolKey(id string) string       { return PrefixPool + id }
func SettlementKey(id string) string { return PrefixSettlement + id }

func InvitationKey(marketID string, p Identity) string {
	return PrefixInvitation + marketID + "/" + string(p)
}

func SubmissionKey(marketID string, p Identity) string {
	return PrefixSubmission + marketID + "/" + string(p)
}

func AccountKey(id Identity) string { return PrefixAccount + string(id) }
