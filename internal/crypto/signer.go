package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// Typed-data hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// VaultDomain(string name,string version,uint256 chainId)
	vaultDomainTypeHash = ethcrypto.Keccak256(
		[]byte("VaultDomain(string name,string version,uint256 chainId)"),
	)

	// Instruction(bytes32 method,address vault,uint256[] args,uint256 nonce)
	instructionTypeHash = ethcrypto.Keccak256(
		[]byte("Instruction(bytes32 method,address vault,uint256[] args,uint256 nonce)"),
	)
)

// InstructionPayload is the typed payload of one ledger program call. Args
// are fixed-point integers at the ledger's decimal scale; the method name is
// hashed into the digest so a signature for one instruction can never be
// replayed as another.
type InstructionPayload struct {
	Method string
	Vault  string // vault derived address, hex
	Args   []*big.Int
	Nonce  int64
}

// Signer holds the vault authority key and produces the signatures the
// ledger program requires on privileged instructions.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte // cached typed-data domain separator
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and the
// target ledger chain ID.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = buildDomainSeparator("CoveredCallVault", "1", chainID)

	return s, nil
}

// Address returns the authority address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignInstruction hashes and signs one ledger instruction, returning a
// hex-encoded 65-byte signature (r || s || v).
func (s *Signer) SignInstruction(p InstructionPayload) (string, error) {
	structHash, err := instructionStructHash(p)
	if err != nil {
		return "", err
	}

	digest := typedDataHash(s.domainSep, structHash)
	return s.signDigest(digest)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(typeHash || nameHash || versionHash || chainId).
func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			vaultDomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// typedDataHash computes the final digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func typedDataHash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// instructionStructHash encodes and hashes an InstructionPayload.
func instructionStructHash(p InstructionPayload) ([]byte, error) {
	if p.Method == "" {
		return nil, fmt.Errorf("crypto/signer: instruction method must not be empty")
	}
	if !common.IsHexAddress(p.Vault) {
		return nil, fmt.Errorf("crypto/signer: invalid vault address %q", p.Vault)
	}

	// Args hash as the keccak of their concatenated 32-byte encodings, the
	// same way typed data encodes a dynamic uint256 array.
	argBytes := make([]byte, 0, len(p.Args)*32)
	for i, a := range p.Args {
		if a == nil || a.Sign() < 0 {
			return nil, fmt.Errorf("crypto/signer: arg %d must be a non-negative integer", i)
		}
		argBytes = append(argBytes, bigIntTo32Bytes(a)...)
	}

	vault := common.HexToAddress(p.Vault)

	return ethcrypto.Keccak256(
		concatBytes(
			instructionTypeHash,
			ethcrypto.Keccak256([]byte(p.Method)),
			common.LeftPadBytes(vault.Bytes(), 32),
			ethcrypto.Keccak256(argBytes),
			bigIntTo32Bytes(big.NewInt(p.Nonce)),
		),
	), nil
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; the ledger expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// concatBytes appends all byte slices into one buffer.
func concatBytes(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// bigIntTo32Bytes left-pads a big.Int to 32 bytes.
func bigIntTo32Bytes(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}
