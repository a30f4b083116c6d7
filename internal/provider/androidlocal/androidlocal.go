// Package androidlocal implements the Android-local hub adapter. It has
// no upstream network call: it consults a host-supplied callback for
// locally installed package versions (the JNI/FFI collaborator in the
// original implementation), matching spec section 4.4's description.
// Installation itself happens outside this module.
package androidlocal

import (
	"context"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/provider"
)

const providerUUID = "a7f6f983-8b2f-4d10-8f3a-8f38d2c6a6ab"

// PackageQuerier is the host callback that knows which Android packages
// are installed and at what version.
type PackageQuerier interface {
	InstalledVersion(ctx context.Context, packageName string) (version string, installed bool, err error)
}

// Provider implements provider.Provider for locally installed packages.
type Provider struct {
	Querier PackageQuerier
}

// New builds an Android-local provider backed by the given host callback.
func New(querier PackageQuerier) *Provider {
	return &Provider{Querier: querier}
}

func (p *Provider) UUID() string         { return providerUUID }
func (p *Provider) FriendlyName() string { return "android-local" }

func packageName(appData provider.DataMap) (string, error) {
	return provider.RequireString(appData, "android_app_package", "app_data")
}

func (p *Provider) CacheRequestKeys(ft provider.FunctionType, in provider.Input) []string {
	// Local package state is never cached: it can change between any two
	// calls without any upstream request occurring.
	return nil
}

func (p *Provider) CheckAppAvailable(ctx context.Context, in provider.Input) (provider.Output[bool], error) {
	pkg, err := packageName(in.AppData)
	if err != nil {
		return provider.Output[bool]{}, err
	}
	_, installed, err := p.Querier.InstalledVersion(ctx, pkg)
	if err != nil {
		return provider.Output[bool]{}, apperror.Wrap(apperror.KindUpstream, "android-local query failed", err)
	}
	return provider.NewOutput(installed), nil
}

func (p *Provider) GetReleases(ctx context.Context, in provider.Input) (provider.Output[[]provider.ReleaseData], error) {
	pkg, err := packageName(in.AppData)
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, err
	}
	ver, installed, err := p.Querier.InstalledVersion(ctx, pkg)
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, apperror.Wrap(apperror.KindUpstream, "android-local query failed", err)
	}
	if !installed || ver == "" {
		return provider.NewOutput([]provider.ReleaseData{}), nil
	}
	return provider.NewOutput([]provider.ReleaseData{{VersionNumber: ver, Assets: []provider.AssetData{}}}), nil
}

func (p *Provider) GetLatestRelease(ctx context.Context, in provider.Input) (provider.Output[provider.ReleaseData], error) {
	out, err := p.GetReleases(ctx, in)
	if err != nil {
		return provider.Output[provider.ReleaseData]{}, err
	}
	return provider.LatestFromReleases(out)
}

var _ provider.Provider = (*Provider)(nil)
