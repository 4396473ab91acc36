package mdoc

// SessionObserver is the user-visible event stream of spec §7: UI never
// sees transient retries, only these six outcomes. Generalized from the
// teacher's Notifier (notify.go), which delivers discrete named
// notifications to a persistence/UI layer; here the sink is an in-process
// callback set rather than a file-backed queue, since this core has no UI
// of its own to write for (spec §1 Non-goals).
type SessionObserver interface {
	EngagingQR(uri []byte)
	Connected()
	SelectNamespaces(requests []ItemsRequest)
	UploadProgress(sent, total int)
	Success(response []byte)
	Error(message string)
}

// NopObserver implements SessionObserver with no-ops, for callers that
// don't need the event stream (e.g. unit tests exercising only the
// session/transport logic directly).
type NopObserver struct{}

func (NopObserver) EngagingQR([]byte)                 {}
func (NopObserver) Connected()                        {}
func (NopObserver) SelectNamespaces([]ItemsRequest)    {}
func (NopObserver) UploadProgress(sent, total int)     {}
func (NopObserver) Success([]byte)                     {}
func (NopObserver) Error(string)                       {}

// observerFuncs lets callers build a SessionObserver from loose closures
// without declaring a named type, mirroring the teacher's callback-style
// registration (onReceived/onStateChange in the §4.D/4.E contracts) rather
// than requiring every caller to implement the full interface.
type observerFuncs struct {
	engagingQR       func(uri []byte)
	connected        func()
	selectNamespaces func(requests []ItemsRequest)
	uploadProgress   func(sent, total int)
	success          func(response []byte)
	errorFn          func(message string)
}

func (f observerFuncs) EngagingQR(uri []byte) {
	if f.engagingQR != nil {
		f.engagingQR(uri)
	}
}
func (f observerFuncs) Connected() {
	if f.connected != nil {
		f.connected()
	}
}
func (f observerFuncs) SelectNamespaces(requests []ItemsRequest) {
	if f.selectNamespaces != nil {
		f.selectNamespaces(requests)
	}
}
func (f observerFuncs) UploadProgress(sent, total int) {
	if f.uploadProgress != nil {
		f.uploadProgress(sent, total)
	}
}
func (f observerFuncs) Success(response []byte) {
	if f.success != nil {
		f.success(response)
	}
}
func (f observerFuncs) Error(message string) {
	if f.errorFn != nil {
		f.errorFn(message)
	}
}
