package frame

import (
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"

	"github.com/nullstream/h2engine/pkg/herrors"
)

// PseudoHeaders carries the HTTP/2 pseudo-header fields of a HEADERS frame
// (RFC 7540 §8.1.2.3, plus RFC 8441's extended CONNECT :protocol). Pointer
// fields distinguish "absent" from "present but empty".
type PseudoHeaders struct {
	Method    *string
	Scheme    *string
	Authority *string
	Path      *string
	Protocol  *string // RFC 8441 extended CONNECT
	Status    *string // response only
}

func str(v string) *string { return &v }

// SplitPseudoHeaders separates the leading pseudo-header fields of a decoded
// header block from the regular fields, validating that no pseudo header
// appears after the first regular field and that no unknown pseudo header
// name is present (RFC 7540 §8.1.2.1).
func SplitPseudoHeaders(fields []hpack.HeaderField) (PseudoHeaders, []hpack.HeaderField, error) {
	var pseudo PseudoHeaders
	var regular []hpack.HeaderField
	seenRegular := false

	for _, f := range fields {
		if !strings.HasPrefix(f.Name, ":") {
			seenRegular = true
			regular = append(regular, f)
			continue
		}
		if seenRegular {
			return pseudo, nil, herrors.NewUnexpectedPseudoError(f.Name)
		}
		switch f.Name {
		case ":method":
			pseudo.Method = str(f.Value)
		case ":scheme":
			pseudo.Scheme = str(f.Value)
		case ":authority":
			pseudo.Authority = str(f.Value)
		case ":path":
			pseudo.Path = str(f.Value)
		case ":protocol":
			pseudo.Protocol = str(f.Value)
		case ":status":
			pseudo.Status = str(f.Value)
		default:
			return pseudo, nil, herrors.NewUnexpectedPseudoError(f.Name)
		}
	}
	return pseudo, regular, nil
}

// ValidateRequest enforces spec.md §4.2's pseudo-header requirements for the
// first HEADERS frame of a peer-initiated (or locally-initiated, for a
// client's own request) stream. extendedConnect reports whether
// SETTINGS_ENABLE_CONNECT_PROTOCOL has been negotiated.
func (p PseudoHeaders) ValidateRequest(extendedConnect bool) error {
	if p.Method == nil {
		return herrors.NewMissingPseudoError(":method")
	}
	if *p.Method == "CONNECT" {
		if p.Protocol != nil {
			// Extended CONNECT (RFC 8441): :authority required, :scheme and
			// :path required, no plain-CONNECT shortcut.
			if !extendedConnect {
				return herrors.NewUnexpectedPseudoError(":protocol")
			}
			if p.Authority == nil {
				return herrors.NewMissingPseudoError(":authority")
			}
			if p.Scheme == nil {
				return herrors.NewMissingPseudoError(":scheme")
			}
			if p.Path == nil {
				return herrors.NewMissingPseudoError(":path")
			}
			return nil
		}
		// Plain CONNECT: only :method and :authority are allowed/required.
		if p.Authority == nil {
			return herrors.NewMissingPseudoError(":authority")
		}
		if p.Scheme != nil {
			return herrors.NewUnexpectedPseudoError(":scheme")
		}
		if p.Path != nil {
			return herrors.NewUnexpectedPseudoError(":path")
		}
		return nil
	}
	if p.Scheme == nil {
		return herrors.NewMissingPseudoError(":scheme")
	}
	if p.Path == nil {
		return herrors.NewMissingPseudoError(":path")
	}
	if p.Protocol != nil {
		return herrors.NewUnexpectedPseudoError(":protocol")
	}
	if p.Status != nil {
		return herrors.NewUnexpectedPseudoError(":status")
	}
	return nil
}

// ValidateResponse enforces that a response HEADERS frame carries exactly
// :status and no request pseudo headers.
func (p PseudoHeaders) ValidateResponse() error {
	if p.Status == nil {
		return herrors.NewMissingPseudoError(":status")
	}
	if p.Method != nil {
		return herrors.NewUnexpectedPseudoError(":method")
	}
	if p.Scheme != nil {
		return herrors.NewUnexpectedPseudoError(":scheme")
	}
	if p.Authority != nil {
		return herrors.NewUnexpectedPseudoError(":authority")
	}
	if p.Path != nil {
		return herrors.NewUnexpectedPseudoError(":path")
	}
	return nil
}

// Empty reports whether no pseudo-header field is set, as required for
// trailers (spec.md §4.2).
func (p PseudoHeaders) Empty() bool {
	return p.Method == nil && p.Scheme == nil && p.Authority == nil &&
		p.Path == nil && p.Protocol == nil && p.Status == nil
}

// StatusCode parses :status into an int, or (0, false) if absent/invalid.
func (p PseudoHeaders) StatusCode() (int, bool) {
	if p.Status == nil {
		return 0, false
	}
	code, err := strconv.Atoi(*p.Status)
	if err != nil {
		return 0, false
	}
	return code, true
}

// IsHead reports whether :method is HEAD.
func (p PseudoHeaders) IsHead() bool {
	return p.Method != nil && *p.Method == "HEAD"
}
