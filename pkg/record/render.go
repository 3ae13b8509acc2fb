package record

import (
	"fmt"
	"strconv"

	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/common"
)

// ChecksumAddress returns the EIP-55 rendering of the record address, or "" if absent.
func (r NameRecord) ChecksumAddress() string {
	if r.Address == nil {
		return ""
	}
	return common.BytesToAddress(r.Address).Hex()
}

// FormatAmount renders sats as BTC, with a USD value when usdPerBTC is positive.
func FormatAmount(sats uint64, usdPerBTC float64) string {
	amount := btcutil.Amount(sats)
	if usdPerBTC <= 0 {
		return fmt.Sprintf("%s (%d sat)", amount, sats)
	}
	usd := amount.ToBTC() * usdPerBTC
	return fmt.Sprintf("%s (%s USD, %d sat)", amount, strconv.FormatFloat(usd, 'f', 2, 64), sats)
}

// FormatTransaction renders one transaction line.
func FormatTransaction(tx Transaction, usdPerBTC float64) string {
	return fmt.Sprintf("In block %d, got %s", tx.Height, FormatAmount(tx.Amount, usdPerBTC))
}
