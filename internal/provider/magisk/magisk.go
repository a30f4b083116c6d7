// Package magisk implements the Magisk module hub adapter: like
// androidlocal, it consults a host callback for the installed-module
// set, optionally cross-checking an online module index when the hub
// config supplies one.
package magisk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
)

const providerUUID = "c3f0e3e2-6b1a-4a6e-9a0b-1e6b3f0e3e2c"

// ModuleQuerier is the host callback that knows which Magisk modules are
// installed and at what version.
type ModuleQuerier interface {
	InstalledModuleVersion(ctx context.Context, moduleID string) (version string, installed bool, err error)
}

// Provider implements provider.Provider for Magisk modules.
type Provider struct {
	Querier ModuleQuerier
	Client  *httputil.Client // used only when hub_data["index_url"] is set
}

// New builds a Magisk provider backed by the given host callback.
func New(querier ModuleQuerier, client *httputil.Client) *Provider {
	return &Provider{Querier: querier, Client: client}
}

func (p *Provider) UUID() string         { return providerUUID }
func (p *Provider) FriendlyName() string { return "magisk" }

func moduleID(appData provider.DataMap) (string, error) {
	if id := appData.GetString("module_id"); id != "" {
		return id, nil
	}
	return provider.RequireString(appData, "android_app_package", "app_data")
}

func (p *Provider) CacheRequestKeys(ft provider.FunctionType, in provider.Input) []string {
	if url := in.HubData.GetString("index_url"); url != "" {
		return []string{url}
	}
	return nil
}

func (p *Provider) CheckAppAvailable(ctx context.Context, in provider.Input) (provider.Output[bool], error) {
	id, err := moduleID(in.AppData)
	if err != nil {
		return provider.Output[bool]{}, err
	}
	_, installed, err := p.Querier.InstalledModuleVersion(ctx, id)
	if err != nil {
		return provider.Output[bool]{}, apperror.Wrap(apperror.KindUpstream, "magisk module query failed", err)
	}
	return provider.NewOutput(installed), nil
}

type indexEntry struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

func (p *Provider) onlineVersion(ctx context.Context, in provider.Input, id string) (string, bool, error) {
	indexURL := in.HubData.GetString("index_url")
	if indexURL == "" || p.Client == nil {
		return "", false, nil
	}
	resp, err := p.Client.Get(ctx, provider.RewriteFromHubData(in.HubData, indexURL), nil)
	if err != nil {
		return "", false, apperror.Wrap(apperror.KindNetwork, "magisk index fetch failed", err)
	}
	if !resp.IsOK() {
		return "", false, apperror.New(apperror.KindUpstream, fmt.Sprintf("magisk index request returned %d", resp.Status))
	}
	var entries []indexEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return "", false, apperror.Wrap(apperror.KindUpstream, "decode magisk index response", err)
	}
	for _, e := range entries {
		if e.ID == id {
			return e.Version, true, nil
		}
	}
	return "", false, nil
}

func (p *Provider) GetReleases(ctx context.Context, in provider.Input) (provider.Output[[]provider.ReleaseData], error) {
	id, err := moduleID(in.AppData)
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, err
	}

	var releases []provider.ReleaseData

	if onlineVer, found, err := p.onlineVersion(ctx, in, id); err != nil {
		return provider.Output[[]provider.ReleaseData]{}, err
	} else if found && onlineVer != "" {
		releases = append(releases, provider.ReleaseData{VersionNumber: onlineVer, Assets: []provider.AssetData{}})
	}

	if len(releases) == 0 {
		installedVer, installed, err := p.Querier.InstalledModuleVersion(ctx, id)
		if err != nil {
			return provider.Output[[]provider.ReleaseData]{}, apperror.Wrap(apperror.KindUpstream, "magisk module query failed", err)
		}
		if installed && installedVer != "" {
			releases = append(releases, provider.ReleaseData{VersionNumber: installedVer, Assets: []provider.AssetData{}})
		}
	}

	releases = provider.DiscardEmptyReleases(releases)
	return provider.NewOutput(releases), nil
}

func (p *Provider) GetLatestRelease(ctx context.Context, in provider.Input) (provider.Output[provider.ReleaseData], error) {
	out, err := p.GetReleases(ctx, in)
	if err != nil {
		return provider.Output[provider.ReleaseData]{}, err
	}
	return provider.LatestFromReleases(out)
}

var _ provider.Provider = (*Provider)(nil)
