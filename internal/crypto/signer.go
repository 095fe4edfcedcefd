package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// DomainName and DomainVersion identify the exchange's EIP-712 domain.
const (
	DomainName    = "CarbonExchange"
	DomainVersion = "1"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	intentTypeHash = ethcrypto.Keccak256(
		[]byte("Intent(string action,string assetId,address actor,address counterparty,uint256 price,string beneficiary,uint256 nonce,uint256 deadline)"),
	)

	certificateTypeHash = ethcrypto.Keccak256(
		[]byte("Certificate(string assetId,bytes32 document)"),
	)
)

// Action names the exchange operation an intent authorises.
type Action string

const (
	ActionMint   Action = "mint"
	ActionList   Action = "list"
	ActionBuy    Action = "buy"
	ActionCancel Action = "cancel"
	ActionRetire Action = "retire"
)

// Intent is the message a caller signs to authorise one operation.
// Counterparty is the seller for buy and the zero address otherwise;
// Beneficiary is only set for retire.
type Intent struct {
	Action       Action         `json:"action"`
	AssetID      string         `json:"asset_id"`
	Actor        common.Address `json:"actor"`
	Counterparty common.Address `json:"counterparty"`
	Price        uint64         `json:"price"`
	Beneficiary  string         `json:"beneficiary,omitempty"`
	Nonce        uint64         `json:"nonce"`
	Deadline     int64          `json:"deadline"` // unix seconds
}

// Signer produces exchange signatures with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain id bound into the signing domain.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain id of the signing domain.
func (s *Signer) ChainID() int64 {
	return s.chainID
}

// SignIntent returns the hex-encoded 65-byte signature over in.
func (s *Signer) SignIntent(in Intent) (string, error) {
	return s.signDigest(eip712Hash(s.domainSep, intentStructHash(in)))
}

// SignCertificate signs the sha256 digest of a certificate document.
func (s *Signer) SignCertificate(assetID string, document [32]byte) (string, error) {
	return s.signDigest(eip712Hash(s.domainSep, certificateStructHash(assetID, document)))
}

// IntentDigest is the EIP-712 digest of in under the given chain id.
func IntentDigest(chainID int64, in Intent) []byte {
	return eip712Hash(domainSeparator(chainID), intentStructHash(in))
}

// RecoverIntentSigner returns the address that produced sig over in.
func RecoverIntentSigner(chainID int64, in Intent, sig string) (common.Address, error) {
	return recoverDigest(IntentDigest(chainID, in), sig)
}

// RecoverCertificateSigner returns the address that signed the document.
func RecoverCertificateSigner(chainID int64, assetID string, document [32]byte, sig string) (common.Address, error) {
	return recoverDigest(eip712Hash(domainSeparator(chainID), certificateStructHash(assetID, document)), sig)
}

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(DomainName)),
			ethcrypto.Keccak256([]byte(DomainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

func intentStructHash(in Intent) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			intentTypeHash,
			ethcrypto.Keccak256([]byte(in.Action)),
			ethcrypto.Keccak256([]byte(in.AssetID)),
			common.LeftPadBytes(in.Actor.Bytes(), 32),
			common.LeftPadBytes(in.Counterparty.Bytes(), 32),
			bigIntTo32Bytes(new(big.Int).SetUint64(in.Price)),
			ethcrypto.Keccak256([]byte(in.Beneficiary)),
			bigIntTo32Bytes(new(big.Int).SetUint64(in.Nonce)),
			bigIntTo32Bytes(big.NewInt(in.Deadline)),
		),
	)
}

func certificateStructHash(assetID string, document [32]byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			certificateTypeHash,
			ethcrypto.Keccak256([]byte(assetID)),
			document[:],
		),
	)
}

// signDigest signs a 32-byte digest and returns r || s || v as hex, with v
// in {27,28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: %w: %w", domain.ErrSigningFailed, err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func recoverDigest(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature: %w", domain.ErrInvalidSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w: %w", domain.ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
