package distpow

type RateLimitConfig struct {
	MessagesPerSecond int
	BurstSize         int
}

type CoordinatorConfig struct {
	ListenAddr string
	Path       string
	// hex encoded 8 byte ceiling on requested difficulty
	MaxThreshold    string
	RewardIncrement uint64
	// await the cache write before delivering accepted work
	DurableAccept bool
	StoragePath   string
	RateLimit     RateLimitConfig
	LogLevel      string
	LogJSON       bool

	TracerServerAddr string
	TracerSecret     []byte
}

// Trace actions recorded by the coordinator. Hashes and words are hex.

type CoordinatorWorkerJoined struct {
	SessionID string
	Paid      bool
}

type CoordinatorServiceJoined struct {
	SessionID string
	ServiceID string
}

type CoordinatorServiceRejected struct {
	SessionID string
	ServiceID string
}

type CoordinatorRequestWork struct {
	ServiceID  string
	Hash       string
	Difficulty string
}

type CoordinatorPrecacheHit struct {
	ServiceID string
	Hash      string
	Work      string
}

type CoordinatorJobCreated struct {
	Hash       string
	Difficulty string
}

type CoordinatorJobJoined struct {
	ServiceID string
	Hash      string
}

type CoordinatorSubmitWork struct {
	SessionID string
	Hash      string
	Work      string
}

type CoordinatorWorkAccepted struct {
	Hash    string
	Work    string
	Waiting int
}
