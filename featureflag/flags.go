package featureflag

type Flag string

const (
	// Draws load missing tiles on the frame goroutine instead of queuing
	// them.
	FlagLoadSynchronous Flag = "LOAD_SYNCHRONOUS"

	// Starts drawing without loading the roots until displayable first.
	FlagDisableBootstrap Flag = "DISABLE_BOOTSTRAP"

	FlagDisableSmokeTest Flag = "DISABLE_SMOKE_TEST"
	FlagDisablePprof     Flag = "DISABLE_PPROF"
)
