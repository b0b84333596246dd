// Package ledger is the settlement bridge: it translates vault economics and
// accepted quotes into the narrow instruction set of the external ledger
// program, signs them with the vault authority key, and submits them. The
// bridge holds no state of its own beyond a nonce counter.
package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Ledger program methods. Privileged methods require the vault authority's
// signature; the program verifies it against the vault's registered authority.
const (
	MethodRecordNotionalExposure = "record_notional_exposure"
	MethodCollectPremium         = "collect_premium"
	MethodPaySettlement          = "pay_settlement"
	MethodAdvanceEpoch           = "advance_epoch"
	MethodRequestWithdrawal      = "request_withdrawal"
	MethodProcessWithdrawal      = "process_withdrawal"
)

// Instruction is one signed call into the ledger program, keyed by the
// vault's derived address. Args are fixed-point integers at the shared
// decimal scale, in the order the method declares them.
type Instruction struct {
	Method    string
	Vault     string // vault derived address
	Authority string // signing authority address
	Args      []*big.Int
	Nonce     int64
	Signature string // hex r || s || v over the typed instruction digest
}

// APIPayload renders the instruction for the ledger RPC endpoint. Numeric
// args travel as decimal strings to preserve precision across JSON.
func (in Instruction) APIPayload() map[string]any {
	args := make([]string, len(in.Args))
	for i, a := range in.Args {
		args[i] = a.String()
	}
	return map[string]any{
		"method":    in.Method,
		"vault":     in.Vault,
		"authority": in.Authority,
		"args":      args,
		"nonce":     in.Nonce,
		"signature": in.Signature,
	}
}

// principalArg encodes a user principal as an instruction argument. Hex
// addresses map to their integer value; any other identifier is keyed by
// its keccak256 hash so distinct principals stay distinct.
func principalArg(user string) *big.Int {
	if common.IsHexAddress(user) {
		return common.HexToAddress(user).Big()
	}
	return new(big.Int).SetBytes(ethcrypto.Keccak256([]byte(user)))
}
