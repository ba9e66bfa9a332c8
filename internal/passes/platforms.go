package passes

type Platform string

const (
	PlatformApple  Platform = "apple"
	PlatformGoogle Platform = "google"
)

// check to see if the platform is a known constant

func (p Platform) IsValid() bool {
	switch p {
	case PlatformApple, PlatformGoogle:
		return true
	default:
		return false
	}
}

func AllPlatforms() []Platform {
	return []Platform{PlatformApple, PlatformGoogle}
}
