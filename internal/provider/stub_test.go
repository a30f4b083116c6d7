package provider

import "context"

// stubProvider is a minimal Provider for registry tests.
type stubProvider struct {
	uuid string
	name string
}

func (s *stubProvider) UUID() string         { return s.uuid }
func (s *stubProvider) FriendlyName() string { return s.name }

func (s *stubProvider) CacheRequestKeys(ft FunctionType, in Input) []string {
	return nil
}

func (s *stubProvider) CheckAppAvailable(ctx context.Context, in Input) (Output[bool], error) {
	return NewOutput(true), nil
}

func (s *stubProvider) GetReleases(ctx context.Context, in Input) (Output[[]ReleaseData], error) {
	return NewOutput([]ReleaseData(nil)), nil
}

func (s *stubProvider) GetLatestRelease(ctx context.Context, in Input) (Output[ReleaseData], error) {
	return Output[ReleaseData]{}, nil
}
