package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// transferSalt distinguishes synthetic balance-transfer transactions from
// imported statement rows. Without it, a genuine import with the same posted
// date, description and amount would collide with a synthetic row and be
// dropped as a duplicate.
const transferSalt = "transfer"

// ContentHash fingerprints a statement transaction for duplicate detection.
// The seed fields are the posted date, description, amount, an empty slot
// for the bank reference (statements do not carry one) and a zero sequence.
func ContentHash(postedOn Date, description string, amount Money) string {
	return contentHash(postedOn, description, amount, "")
}

// TransferContentHash fingerprints a synthetic balance-transfer transaction.
// Same algorithm as ContentHash with a salt mixed in.
func TransferContentHash(postedOn Date, description string, amount Money) string {
	return contentHash(postedOn, description, amount, transferSalt)
}

func contentHash(postedOn Date, description string, amount Money, salt string) string {
	fields := []string{
		postedOn.Format("2006-01-02"),
		description,
		strconv.FormatInt(amount.Cents, 10),
		"null",
		"0",
	}
	if salt != "" {
		fields = append(fields, salt)
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
