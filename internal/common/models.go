package common

const (
	// ServiceName is the mDNS service name for tracker discovery.
	ServiceName = "_peershare._tcp"
	// ServiceDomain is the mDNS service domain.
	ServiceDomain = "local."
	// ServiceInstance is the mDNS instance name the tracker registers under.
	ServiceInstance = "peershare-tracker"

	// ChunkSize bounds every read and write on the transfer channel (32KB).
	ChunkSize = 32 * 1024

	// DefaultTrackerPort is the registry listen port when none is given.
	DefaultTrackerPort = 8000
	// DefaultTransferPort is the peer's transfer listen port when none is given.
	DefaultTransferPort = 9001
	// DefaultShareDir is the peer's share directory when none is given.
	DefaultShareDir = "./shared"
)
