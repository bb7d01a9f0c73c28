package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/flagctl/authclient"
)

// Displayer abstracts all output from a flagctl run. It receives session
// events from the auth client as an authclient.Observer.
type Displayer interface {
	authclient.Observer

	Banner(target, baseURL string)
	Calling(method, path string, count int)
	CallOK(id string, status int, elapsed time.Duration)
	CallFailed(id string, err error)
	Navigated(route string)
	Done(succeeded, failed int, elapsed time.Duration)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *PlainDisplayer) Banner(target, baseURL string) {
	p.printf("=== flagctl (%s: %s) ===\n\n", target, baseURL)
}

func (p *PlainDisplayer) Calling(method, path string, count int) {
	if count > 1 {
		p.printf("Sending %d concurrent %s %s...\n", count, method, path)
		return
	}
	p.printf("Sending %s %s...\n", method, path)
}

func (p *PlainDisplayer) CallOK(id string, status int, elapsed time.Duration) {
	p.printf("[%s] %d in %s\n", id, status, elapsed.Round(time.Millisecond))
}

func (p *PlainDisplayer) CallFailed(id string, err error) {
	p.printf("[%s] failed: %v\n", id, err)
}

func (p *PlainDisplayer) AccessTokenRejected() {
	p.printf("Access token rejected (401), refreshing...\n")
}

func (p *PlainDisplayer) Refreshing() {
	p.printf("Refreshing access token...\n")
}

func (p *PlainDisplayer) Refreshed() {
	p.printf("Token refreshed successfully!\n")
}

func (p *PlainDisplayer) RefreshReused() {
	p.printf("Token already refreshed by another request\n")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	p.printf("Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) Retrying() {
	p.printf("Token refreshed, retrying call...\n")
}

func (p *PlainDisplayer) TokensRotated() {
	p.printf("Server issued new tokens\n")
}

func (p *PlainDisplayer) LoggedOut(reason error) {
	if reason != nil {
		p.printf("Session ended: %v\n", reason)
		return
	}
	p.printf("Session ended\n")
}

func (p *PlainDisplayer) Navigated(route string) {
	p.printf("Redirected to %s\n", route)
}

func (p *PlainDisplayer) Done(succeeded, failed int, elapsed time.Duration) {
	p.printf("\n========================================\n")
	p.printf("Succeeded: %d\n", succeeded)
	p.printf("Failed:    %d\n", failed)
	p.printf("Elapsed:   %s\n", elapsed.Round(time.Millisecond))
	p.printf("========================================\n")
}

func (p *PlainDisplayer) Fatal(err error) {
	p.printf("Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct {
	authclient.NoopObserver
}

func (NoopDisplayer) Banner(_, _ string)                      {}
func (NoopDisplayer) Calling(_, _ string, _ int)              {}
func (NoopDisplayer) CallOK(_ string, _ int, _ time.Duration) {}
func (NoopDisplayer) CallFailed(_ string, _ error)            {}
func (NoopDisplayer) Navigated(_ string)                      {}
func (NoopDisplayer) Done(_, _ int, _ time.Duration)          {}
func (NoopDisplayer) Fatal(_ error)                           {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(target, baseURL string) {
	t.p.Send(MsgBanner{Target: target, BaseURL: baseURL})
}

func (t *ProgramDisplayer) Calling(method, path string, count int) {
	t.p.Send(MsgCalling{Method: method, Path: path, Count: count})
}

func (t *ProgramDisplayer) CallOK(id string, status int, elapsed time.Duration) {
	t.p.Send(MsgCallOK{ID: id, Status: status, Elapsed: elapsed})
}

func (t *ProgramDisplayer) CallFailed(id string, err error) {
	t.p.Send(MsgCallFailed{ID: id, Err: err})
}

func (t *ProgramDisplayer) AccessTokenRejected() {
	t.p.Send(MsgAccessTokenRejected{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) Refreshed() {
	t.p.Send(MsgRefreshed{})
}

func (t *ProgramDisplayer) RefreshReused() {
	t.p.Send(MsgRefreshReused{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) Retrying() {
	t.p.Send(MsgRetrying{})
}

func (t *ProgramDisplayer) TokensRotated() {
	t.p.Send(MsgTokensRotated{})
}

func (t *ProgramDisplayer) LoggedOut(reason error) {
	t.p.Send(MsgLoggedOut{Reason: reason})
}

func (t *ProgramDisplayer) Navigated(route string) {
	t.p.Send(MsgNavigated{Route: route})
}

func (t *ProgramDisplayer) Done(succeeded, failed int, elapsed time.Duration) {
	t.p.Send(MsgDone{Succeeded: succeeded, Failed: failed, Elapsed: elapsed})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
