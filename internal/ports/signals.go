package ports

// Margins are directional pixel tolerances applied around an element when deciding if it
// intersects the viewport.
type Margins struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

type ViewportOptions struct {
	Tolerance Margins
	// Spy keeps reporting enter/exit transitions instead of firing once.
	Spy bool
}

// ViewportHandler receives enter/exit transitions for a watched element.
type ViewportHandler interface {
	OnEnterViewport()
	OnExitViewport()
}

// ViewportWatcher is the viewport-intersection signal source.
type ViewportWatcher interface {
	// Watch starts reporting transitions for elementID; the returned func stops it.
	Watch(elementID string, opts ViewportOptions, h ViewportHandler) (cancel func())
}

// VisibilitySource is the page-visibility signal source.
type VisibilitySource interface {
	// Visible reports whether the page is currently in the foreground.
	Visible() bool
	// Subscribe calls fn on every change; the returned func unsubscribes.
	Subscribe(fn func(visible bool)) (cancel func())
}
