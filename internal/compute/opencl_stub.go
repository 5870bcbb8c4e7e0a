//go:build !gpu

package compute

func openclPlatforms() ([]PlatformInfo, error) {
	return nil, ErrNotBuilt
}

func openOpenCL(DeviceInfo) (Context, error) {
	return nil, ErrNotBuilt
}
