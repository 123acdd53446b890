package serialbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultRetries bounds both the identity handshake and command exchanges.
const DefaultRetries = 5

// Identity is the device address reported by the firmware. It is stable
// across reconnects, unlike the endpoint path.
type Identity string

// Prober runs the identity handshake against single endpoints.
type Prober struct {
	profile *Profile
	retries int
	frames  FrameOptions
}

// NewProber returns a Prober for the profile's handshake. A retries value
// of zero or less uses DefaultRetries.
func NewProber(profile *Profile, retries int, frames FrameOptions) *Prober {
	if retries <= 0 {
		retries = DefaultRetries
	}
	return &Prober{profile: profile, retries: retries, frames: frames}
}

// Probe asks ep for its identity.
//
// The reply is accepted only when line 0 is the identify command and line 2
// starts with the identity marker. Every other outcome is retried, with the
// endpoint drained in between, until the retry bound is spent.
func (p *Prober) Probe(ctx context.Context, ep Endpoint) (Identity, error) {
	reader := NewFrameReader(ep, p.frames)
	request := []byte(p.profile.IdentifyCommand + "\r\n")

	var lastErr error
	for attempt := 1; attempt <= p.retries; attempt++ {
		if attempt > 1 {
			if err := reader.Drain(ctx); err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				lastErr = err
				continue
			}
		}

		if _, err := ep.Write(request); err != nil {
			lastErr = fmt.Errorf("writing identify command: %w", err)
			continue
		}

		reply, err := reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}

		id, err := p.identify(reply)
		if err != nil {
			lastErr = err
			continue
		}
		return id, nil
	}

	return "", fmt.Errorf("%w: %s after %d attempts: %w", ErrProbeFailed, ep.Path(), p.retries, lastErr)
}

func (p *Prober) identify(reply Reply) (Identity, error) {
	echo, _ := reply.Line(0)
	if echo != p.profile.IdentifyCommand {
		return "", fmt.Errorf("unexpected echo %q", echo)
	}
	return p.profile.ExtractIdentity(reply)
}

// errNoIdentity marks a handshake reply without a usable identity line.
var errNoIdentity = errors.New("no identity line")

// ExtractIdentity takes the fixed-width identity out of line 2 of a
// handshake reply, e.g. "ID 42 ..." yields "42".
func (p *Profile) ExtractIdentity(reply Reply) (Identity, error) {
	line, ok := reply.Line(2)
	if !ok || !strings.HasPrefix(line, p.IdentityMarker) {
		return "", errNoIdentity
	}
	end := p.IdentityOffset + p.IdentityWidth
	if len(line) < end {
		return "", fmt.Errorf("%w: %q too short", errNoIdentity, line)
	}
	return Identity(line[p.IdentityOffset:end]), nil
}
