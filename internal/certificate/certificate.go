// Package certificate issues signed, content-addressed retirement
// certificates and stores them in object storage.
package certificate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/alanyoungcy/carbonex/internal/crypto"
	"github.com/alanyoungcy/carbonex/internal/domain"
)

const (
	documentVersion = 1
	contentType     = "application/json"
	pathPrefix      = "certificates/"
)

// Document is the certified statement about one retirement.
type Document struct {
	Version     int                   `json:"version"`
	AssetID     string                `json:"asset_id"`
	Owner       common.Address        `json:"owner"`
	Beneficiary string                `json:"beneficiary"`
	Reason      string                `json:"reason"`
	RetiredAt   time.Time             `json:"retired_at"`
	Credit      domain.CreditMetadata `json:"credit"`
	Issuer      common.Address        `json:"issuer"`
	ChainID     int64                 `json:"chain_id"`
	IssuedAt    time.Time             `json:"issued_at"`
}

// Signed is the stored form: the exact document bytes plus the issuer's
// signature over their sha256 digest.
type Signed struct {
	Document  json.RawMessage `json:"document"`
	Signature string          `json:"signature"`
}

// Certificate describes an issued certificate.
type Certificate struct {
	AssetID   string    `json:"asset_id"`
	CID       string    `json:"cid"`
	Path      string    `json:"path"`
	Signature string    `json:"signature"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Path returns the object key for assetID's certificate.
func Path(assetID string) string {
	return pathPrefix + url.PathEscape(assetID) + ".json"
}

// CID returns the CIDv1 (raw codec, sha2-256) of data.
func CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("certificate: multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Issuer signs certificates with the exchange authority key.
type Issuer struct {
	signer *crypto.Signer
	writer domain.BlobWriter
	reader domain.BlobReader
	nowFn  func() time.Time
}

// NewIssuer creates an Issuer. reader may be nil when certificates are
// only written.
func NewIssuer(signer *crypto.Signer, writer domain.BlobWriter, reader domain.BlobReader) *Issuer {
	return &Issuer{signer: signer, writer: writer, reader: reader, nowFn: time.Now}
}

// Build assembles the certificate document for a retirement.
func (i *Issuer) Build(rec domain.RetirementRecord, credit domain.Credit) Document {
	return Document{
		Version:     documentVersion,
		AssetID:     rec.AssetID,
		Owner:       rec.Owner,
		Beneficiary: rec.Beneficiary,
		Reason:      rec.Reason,
		RetiredAt:   rec.RetirementDate.UTC(),
		Credit:      credit.Metadata,
		Issuer:      i.signer.Address(),
		ChainID:     i.signer.ChainID(),
		IssuedAt:    i.nowFn().UTC(),
	}
}

// Issue signs and uploads the certificate for rec.
func (i *Issuer) Issue(ctx context.Context, rec domain.RetirementRecord, credit domain.Credit) (Certificate, error) {
	doc := i.Build(rec, credit)
	raw, err := json.Marshal(doc)
	if err != nil {
		return Certificate{}, fmt.Errorf("certificate: marshal %s: %w", rec.AssetID, err)
	}
	sig, err := i.signer.SignCertificate(rec.AssetID, sha256.Sum256(raw))
	if err != nil {
		return Certificate{}, fmt.Errorf("certificate: sign %s: %w", rec.AssetID, err)
	}
	body, err := json.Marshal(Signed{Document: raw, Signature: sig})
	if err != nil {
		return Certificate{}, fmt.Errorf("certificate: marshal signed %s: %w", rec.AssetID, err)
	}
	id, err := CID(body)
	if err != nil {
		return Certificate{}, err
	}
	path := Path(rec.AssetID)
	if err := i.writer.Put(ctx, path, bytes.NewReader(body), contentType); err != nil {
		return Certificate{}, fmt.Errorf("certificate: upload %s: %w", rec.AssetID, err)
	}
	return Certificate{
		AssetID:   rec.AssetID,
		CID:       id.String(),
		Path:      path,
		Signature: sig,
		IssuedAt:  doc.IssuedAt,
	}, nil
}

// Fetch returns the stored certificate bytes for assetID, or
// domain.ErrNotFound.
func (i *Issuer) Fetch(ctx context.Context, assetID string) ([]byte, error) {
	if i.reader == nil {
		return nil, fmt.Errorf("certificate: fetch %s: %w", assetID, domain.ErrNotFound)
	}
	path := Path(assetID)
	ok, err := i.reader.Exists(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("certificate: stat %s: %w", assetID, err)
	}
	if !ok {
		return nil, fmt.Errorf("certificate: fetch %s: %w", assetID, domain.ErrNotFound)
	}
	rc, err := i.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("certificate: fetch %s: %w", assetID, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("certificate: read %s: %w", assetID, err)
	}
	return data, nil
}

// Verify parses a stored certificate and checks that its signature was
// produced by the issuer named in the document.
func Verify(data []byte) (Document, error) {
	var s Signed
	if err := json.Unmarshal(data, &s); err != nil {
		return Document{}, fmt.Errorf("certificate: decode: %w", err)
	}
	if len(s.Document) == 0 {
		return Document{}, errors.New("certificate: missing document")
	}
	var doc Document
	if err := json.Unmarshal(s.Document, &doc); err != nil {
		return Document{}, fmt.Errorf("certificate: decode document: %w", err)
	}
	signer, err := crypto.RecoverCertificateSigner(doc.ChainID, doc.AssetID, sha256.Sum256(s.Document), s.Signature)
	if err != nil {
		return Document{}, err
	}
	if signer != doc.Issuer {
		return Document{}, fmt.Errorf("certificate: signed by %s, issuer %s: %w", signer.Hex(), doc.Issuer.Hex(), domain.ErrInvalidSignature)
	}
	return doc, nil
}
