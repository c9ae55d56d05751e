package transport

// Backend selects how listeners are bound and which strategy dials first.
type Backend string

const (
	// BackendProfile registers the service with BlueZ, which publishes
	// the SDP record; outbound links go through Device1.ConnectProfile.
	BackendProfile Backend = "profile"

	// BackendSocket binds a raw RFCOMM socket on a fixed channel and
	// dials channels directly.
	BackendSocket Backend = "socket"
)

// SystemOptions configures the platform Factory.
type SystemOptions struct {
	Backend         Backend
	Adapter         string // e.g. "hci0"; empty picks the first adapter
	UUID            string // service UUID used by the profile dialer
	Channel         uint8  // channel the socket dialer tries first
	FallbackChannel uint8  // channel the fallback dialer connects to
}

func (o *SystemOptions) withDefaults() {
	if o.Backend == "" {
		o.Backend = BackendProfile
	}
	if o.UUID == "" {
		o.UUID = ServiceUUID
	}
	if o.Channel == 0 {
		o.Channel = DefaultChannel
	}
	if o.FallbackChannel == 0 {
		o.FallbackChannel = FallbackChannel
	}
}
