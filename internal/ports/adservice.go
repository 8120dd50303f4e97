package ports

// Slot is the opaque handle the ad service returns once a slot is defined.
type Slot interface {
	AdUnitPath() string
	ElementID() string
}

// AdService is the third-party ad-serving client. It is only ever touched from commands
// drained off a CommandQueue.
type AdService interface {
	DefineSlot(adUnitPath string, size [2]int, elementID string) (Slot, error)
	// AddService attaches the publisher ads service to the slot.
	AddService(slot Slot) error
	SetTargeting(slot Slot, key, value string) error
	EnableSingleRequest() error
	EnableServices() error
	Display(elementID string) error
	Refresh(slots []Slot) error
	// DestroySlots removes the slots so their element ids can be defined again.
	DestroySlots(slots []Slot) error
}

// Command is a unit of work run against the AdService when the queue reaches it.
type Command func(svc AdService) error

// CommandQueue is always available and runs pushed commands in push order at some later
// point chosen by the queue. Callers MUST NOT assume synchronous completion.
// Implementations MUST catch errors and panics raised by a command and keep draining.
type CommandQueue interface {
	Push(op string, cmd Command)
}
