package version

// Build information (injected via ldflags — must NOT have default values).
var (
	Version   string
	GitSHA    string
	BuildDate string
)

// BuildMarker is a hardcoded string fota-sim's status command prints
// alongside the ldflags values, so a human can sanity-check that the
// binary they're running matches the one they built.
const BuildMarker = "fotacore-build-001"
