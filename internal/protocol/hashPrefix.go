package protocol

// makeHashPrefix combines three ASCII characters into a 4-byte prefix with the last byte set to zero.
func makeHashPrefix(a, b, c byte) [4]byte {
	return [4]byte{a, b, c, 0}
}

// HashPrefix constants separate the hash domains of the objects that are
// identified or signed by content.
var (
	HashPrefixTransactionID = makeHashPrefix('T', 'X', 'N') // Transaction ID
	HashPrefixTxSet         = makeHashPrefix('T', 'X', 'S') // Transaction set ID
	HashPrefixLedgerMaster  = makeHashPrefix('L', 'W', 'R') // Ledger header
	HashPrefixValidation    = makeHashPrefix('V', 'A', 'L') // Validation
	HashPrefixProposal      = makeHashPrefix('P', 'R', 'P') // Proposal
	HashPrefixDispute       = makeHashPrefix('D', 'S', 'P') // Dispute vote
)
