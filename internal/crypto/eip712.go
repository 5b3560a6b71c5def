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
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Agent(string source,bytes32 connectionId)
	agentTypeHash = ethcrypto.Keccak256(
		[]byte("Agent(string source,bytes32 connectionId)"),
	)
)

// AgentSigner signs Hyperliquid exchange actions with the wallet's ECDSA
// key. Hyperliquid authenticates an action by verifying an EIP-712 signature
// over an Agent struct whose connectionId commits to the serialized action
// and nonce.
type AgentSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	source     string
}

// NewAgentSigner creates an AgentSigner from a hex-encoded private key (with
// or without 0x prefix). source is "a" for mainnet, "b" for testnet.
func NewAgentSigner(privateKeyHex string, chainID int64, source string) (*AgentSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return &AgentSigner{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:    big.NewInt(chainID),
		source:     source,
	}, nil
}

// Address returns the signer's wallet address in checksummed hex.
func (s *AgentSigner) Address() string {
	return s.address.Hex()
}

// ConnectionID computes the bytes32 commitment for an action: keccak256 of
// the serialized action bytes followed by the big-endian uint64 nonce.
func ConnectionID(actionBytes []byte, nonce uint64) [32]byte {
	nonceBytes := make([]byte, 8)
	for i := 0; i < 8; i++ {
		nonceBytes[7-i] = byte(nonce >> (8 * i))
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(actionBytes, nonceBytes))
	return out
}

// SignAction produces the r, s, v components of the EIP-712 Agent signature
// for the given connection ID.
func (s *AgentSigner) SignAction(connectionID [32]byte) (r, sv string, v byte, err error) {
	digest := s.typedDataDigest(connectionID)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", "", 0, fmt.Errorf("crypto: sign action: %w", err)
	}

	// go-ethereum returns v in {0,1}; the venue expects {27,28}.
	r = "0x" + hex.EncodeToString(sig[:32])
	sv = "0x" + hex.EncodeToString(sig[32:64])
	v = sig[64] + 27
	return r, sv, v, nil
}

// typedDataDigest assembles the EIP-712 signing digest:
// keccak256(0x1901 || domainSeparator || structHash).
func (s *AgentSigner) typedDataDigest(connectionID [32]byte) []byte {
	domainSeparator := ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte("Exchange")),
		ethcrypto.Keccak256([]byte("1")),
		common.LeftPadBytes(s.chainID.Bytes(), 32),
		common.LeftPadBytes(common.Address{}.Bytes(), 32),
	)

	structHash := ethcrypto.Keccak256(
		agentTypeHash,
		ethcrypto.Keccak256([]byte(s.source)),
		connectionID[:],
	)

	return ethcrypto.Keccak256(
		[]byte{0x19, 0x01},
		domainSeparator,
		structHash,
	)
}
