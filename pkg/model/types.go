package model

import (
	"net/netip"
	"strings"
	"time"
)

// Roa is a Route Origin Authorization: ASN is allowed to originate Prefix
// and any more-specific announcement up to MaxLength bits.
type Roa struct {
	Prefix    netip.Prefix // Authorized prefix (network address + mask)
	ASN       uint32       // Origin AS number
	MaxLength uint8        // Maximum announced prefix length
	RIR       Rir          // Issuing registry (RirUnknown if the TA was not recognized)
	NotBefore time.Time    // Validity start (zero = no lower bound)
	NotAfter  time.Time    // Validity end (zero = no upper bound)
}

// SameAuthorization reports whether two ROAs carry the identical
// (prefix, asn, max_length) triplet. This is the dedup key for inserts;
// RIR and validity window do not participate.
func (r Roa) SameAuthorization(other Roa) bool {
	return r.Prefix == other.Prefix && r.ASN == other.ASN && r.MaxLength == other.MaxLength
}

// ValidAt reports whether the ROA's validity window contains t. A zero
// bound imposes no restriction on that side.
func (r Roa) ValidAt(t time.Time) bool {
	if !r.NotBefore.IsZero() && t.Before(r.NotBefore) {
		return false
	}
	if !r.NotAfter.IsZero() && t.After(r.NotAfter) {
		return false
	}
	return true
}

// Aspa is an AS Provider Authorization: the set of ASes authorized to act
// as upstream providers for CustomerASN.
type Aspa struct {
	CustomerASN uint32    // Customer AS number
	Providers   []uint32  // Authorized provider ASNs (order irrelevant)
	Expires     time.Time // Expiry (zero = unknown/none)
}

// Validation is the outcome of an RPKI origin validation query.
type Validation int

const (
	// ValidationValid: at least one covering ROA authorizes the origin ASN
	// at the announced length.
	ValidationValid Validation = iota
	// ValidationInvalid: covering ROAs exist but none authorize this
	// origin/length combination.
	ValidationInvalid
	// ValidationUnknown: no covering ROA exists (or none is inside its
	// validity window for expiry-aware queries).
	ValidationUnknown
)

func (v Validation) String() string {
	switch v {
	case ValidationValid:
		return "valid"
	case ValidationInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Rir identifies a Regional Internet Registry.
type Rir int

const (
	RirUnknown Rir = iota
	RirAfrinic
	RirApnic
	RirArin
	RirLacnic
	RirRipencc
)

// AllRirs lists the five registries in stable order.
func AllRirs() []Rir {
	return []Rir{RirAfrinic, RirApnic, RirArin, RirLacnic, RirRipencc}
}

// ParseRir maps a trust-anchor name as it appears in source documents
// (e.g. "ripencc", "arin") to a Rir. Returns RirUnknown for anything else.
func ParseRir(s string) Rir {
	switch strings.ToLower(s) {
	case "afrinic":
		return RirAfrinic
	case "apnic":
		return RirApnic
	case "arin":
		return RirArin
	case "lacnic":
		return RirLacnic
	case "ripe", "ripencc":
		return RirRipencc
	}
	return RirUnknown
}

func (r Rir) String() string {
	switch r {
	case RirAfrinic:
		return "AFRINIC"
	case RirApnic:
		return "APNIC"
	case RirArin:
		return "ARIN"
	case RirLacnic:
		return "LACNIC"
	case RirRipencc:
		return "RIPENCC"
	}
	return "UNKNOWN"
}

// TalName is the trust-anchor directory name used by the RIPE archive layout.
func (r Rir) TalName() string {
	return strings.ToLower(r.String()) + ".tal"
}

// RpkiFile describes one downloadable RPKI data file.
type RpkiFile struct {
	URL       string    // Full download URL
	Timestamp time.Time // Snapshot timestamp (UTC)
	Size      int64     // Size in bytes, 0 if unknown
	RIR       Rir       // Issuing RIR (RIPE historical files)
	Collector string    // Collector name (RPKIviews files), "" otherwise
}

// Error types
type Error string

const (
	ErrNotFound          Error = "target entry not found in archive"
	ErrSourceUnavailable Error = "no usable file found for the requested source and date"
	ErrFormat            Error = "source document field has unexpected format"
	ErrDecode            Error = "decompression or decoding failed"
	ErrFetchFailed       Error = "failed to fetch remote file"
	ErrInvalidPrefix     Error = "invalid IP prefix"
)

func (e Error) Error() string {
	return string(e)
}
