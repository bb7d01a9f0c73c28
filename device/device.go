// Package device identifies the installation making requests: a persistent
// per-installation id plus a device class derived from the user agent.
package device

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/go-authgate/flagctl/tokenstore"
)

// IDKey is the backend key the device id is persisted under.
const IDKey = "uuid"

// Class is the kind of client a request originates from.
type Class int

const (
	Web Class = iota
	MobileWeb
	IOSWebView
	AndroidWebView
)

// String returns the name used in logs and configuration.
func (c Class) String() string {
	switch c {
	case MobileWeb:
		return "mobile-web"
	case IOSWebView:
		return "ios-webview"
	case AndroidWebView:
		return "android-webview"
	default:
		return "web"
	}
}

// Header returns the value sent in the x-client-type header.
func (c Class) Header() string {
	if c == MobileWeb {
		return "mweb"
	}
	return c.String()
}

var (
	mobileSignature  = regexp.MustCompile(`(?i)android|iphone|ipad|ipod|kindle|silk|mobile`)
	iosSignature     = regexp.MustCompile(`(?i)iphone|ipad|ipod`)
	androidWebView   = regexp.MustCompile(`; wv\)|Version/\d+(\.\d+)* Chrome/`)
	androidSignature = regexp.MustCompile(`(?i)android`)
)

// ClassFromUserAgent classifies a user-agent string. An empty or unknown
// agent is Web.
func ClassFromUserAgent(ua string) Class {
	switch {
	case ua == "":
		return Web
	case androidSignature.MatchString(ua) && androidWebView.MatchString(ua):
		return AndroidWebView
	case iosSignature.MatchString(ua) && strings.Contains(ua, "AppleWebKit") && !strings.Contains(ua, "Safari/"):
		// in-app WebViews drop the Safari token that mobile Safari sends
		return IOSWebView
	case mobileSignature.MatchString(ua):
		return MobileWeb
	default:
		return Web
	}
}

// Identity is what a request carries to identify its origin.
type Identity struct {
	DeviceID string
	Class    Class
}

// Provider hands out the installation's device identity.
type Provider struct {
	mu        sync.Mutex
	backend   tokenstore.Backend
	userAgent string
	cached    string
}

// NewProvider creates a Provider persisting the device id in backend and
// classifying userAgent.
func NewProvider(backend tokenstore.Backend, userAgent string) *Provider {
	return &Provider{backend: backend, userAgent: userAgent}
}

// DeviceID returns the persisted device id, generating and storing one on
// first use.
func (p *Provider) DeviceID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" {
		return p.cached, nil
	}

	stored, err := p.backend.Get(IDKey)
	switch {
	case err == nil:
		if _, parseErr := uuid.Parse(stored); parseErr == nil {
			p.cached = stored
			return stored, nil
		}
		// fall through and replace an id we did not write
	case !errors.Is(err, tokenstore.ErrNotFound):
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate device id: %w", err)
	}
	if err := p.backend.Set(IDKey, id.String()); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	p.cached = id.String()
	return p.cached, nil
}

// Class classifies the provider's user agent.
func (p *Provider) Class() Class {
	return ClassFromUserAgent(p.userAgent)
}

// Identity returns the device id and class together.
func (p *Provider) Identity() (Identity, error) {
	id, err := p.DeviceID()
	if err != nil {
		return Identity{}, err
	}
	return Identity{DeviceID: id, Class: p.Class()}, nil
}
