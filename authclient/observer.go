package authclient

// Observer is told about session events as they happen. Implementations
// must be safe for concurrent use.
type Observer interface {
	AccessTokenRejected()
	Refreshing()
	Refreshed()
	RefreshReused()
	RefreshFailed(err error)
	Retrying()
	TokensRotated()
	LoggedOut(reason error)
}

// NoopObserver ignores every event.
type NoopObserver struct{}

func (NoopObserver) AccessTokenRejected() {}
func (NoopObserver) Refreshing()          {}
func (NoopObserver) Refreshed()           {}
func (NoopObserver) RefreshReused()       {}
func (NoopObserver) RefreshFailed(error)  {}
func (NoopObserver) Retrying()            {}
func (NoopObserver) TokensRotated()       {}
func (NoopObserver) LoggedOut(error)      {}
