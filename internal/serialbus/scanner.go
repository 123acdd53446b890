package serialbus

import (
	"context"
	"errors"
	"fmt"
)

// ScanResult is the outcome of one bus scan.
type ScanResult struct {
	// Identities in discovery order.
	Identities []Identity
	// Paths maps each identity to the endpoint path it was found on.
	Paths map[Identity]string
	// Target is the still-open endpoint of the requested identity, or nil.
	Target Endpoint
	// Unidentified lists paths that opened but failed the handshake.
	Unidentified []string
	// Exhaustive is false when the scan stopped early at the target.
	Exhaustive bool
}

// Close closes the target endpoint if one is held.
func (r *ScanResult) Close() error {
	if r == nil || r.Target == nil {
		return nil
	}
	err := r.Target.Close()
	r.Target = nil
	return err
}

// Scanner discovers devices attached to the bus.
type Scanner struct {
	opener Opener
	lister Lister
	prober *Prober
	logger Logger
}

// NewScanner creates a Scanner.
func NewScanner(opener Opener, lister Lister, prober *Prober) *Scanner {
	return &Scanner{
		opener: opener,
		lister: lister,
		prober: prober,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for scan diagnostics.
func (s *Scanner) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Scan opens and probes every endpoint matching pattern, one at a time.
//
// With an empty target the scan is exhaustive. With a target the scan stops
// at the first endpoint reporting that identity and leaves it open in
// ScanResult.Target; identities seen before it are still reported, so a
// targeted scan may list fewer devices than an exhaustive one.
//
// An endpoint that cannot be opened aborts the scan with a *TransportError.
// An endpoint that opens but fails the handshake is skipped.
func (s *Scanner) Scan(ctx context.Context, pattern string, target Identity) (*ScanResult, error) {
	paths, err := s.lister.List(pattern)
	if err != nil {
		return nil, &TransportError{Path: pattern, Err: err}
	}

	result := &ScanResult{
		Identities: []Identity{},
		Paths:      make(map[Identity]string),
		Exhaustive: true,
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ep, err := s.opener.Open(path)
		if err != nil {
			return nil, &TransportError{Path: path, Err: err}
		}

		id, err := s.prober.Probe(ctx, ep)
		if err != nil {
			ep.Close() //nolint:errcheck // skipping endpoint
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("serial endpoint failed identification", "path", path, "error", err)
			result.Unidentified = append(result.Unidentified, path)
			continue
		}

		if first, dup := result.Paths[id]; dup {
			s.logger.Warn("duplicate serial device identity", "identity", string(id), "path", path, "first_path", first)
			ep.Close() //nolint:errcheck // duplicate ignored
			continue
		}

		result.Identities = append(result.Identities, id)
		result.Paths[id] = path
		s.logger.Debug("serial device identified", "identity", string(id), "path", path)

		if target != "" && id == target {
			result.Target = ep
			result.Exhaustive = false
			return result, nil
		}
		ep.Close() //nolint:errcheck // not the target
	}

	return result, nil
}

// Resolve returns the open endpoint of target, or ErrDeviceNotFound.
func (s *Scanner) Resolve(ctx context.Context, pattern string, target Identity) (Endpoint, error) {
	if target == "" {
		return nil, fmt.Errorf("%w: empty identity", ErrDeviceNotFound)
	}
	result, err := s.Scan(ctx, pattern, target)
	if err != nil {
		return nil, err
	}
	if result.Target == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, target)
	}
	return result.Target, nil
}

// IsTransportError reports whether err means the bus itself is unreachable.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
