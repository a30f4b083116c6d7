// Package lsposed implements the LSPosed module index hub adapter: a
// single JSON endpoint listing every published module and its releases.
package lsposed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
)

const (
	providerUUID = "7a3b5b7e-4b6b-4b8e-9b8a-5b6b4b7e3a5b"
	indexURL     = "https://modules.lsposed.org/modules.json"
)

// Provider implements provider.Provider for the LSPosed module index.
type Provider struct {
	Client *httputil.Client
}

// New builds an LSPosed provider using the given HTTP client.
func New(client *httputil.Client) *Provider {
	return &Provider{Client: client}
}

func (p *Provider) UUID() string         { return providerUUID }
func (p *Provider) FriendlyName() string { return "lsposed" }

func packageName(appData provider.DataMap) (string, error) {
	return provider.RequireString(appData, "android_app_package", "app_data")
}

func (p *Provider) CacheRequestKeys(ft provider.FunctionType, in provider.Input) []string {
	return []string{indexURL}
}

type indexModule struct {
	Name     string          `json:"name"`
	Releases []indexRelease `json:"releases"`
}

type indexRelease struct {
	TagName       string       `json:"tag_name"`
	Description   string       `json:"description"`
	ReleaseAssets []indexAsset `json:"releaseAssets"`
}

type indexAsset struct {
	Name               string `json:"name"`
	ContentType        string `json:"content_type"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func (p *Provider) fetchModule(ctx context.Context, in provider.Input, pkg string) (*indexModule, error) {
	url := provider.RewriteFromHubData(in.HubData, indexURL)
	resp, err := p.Client.Get(ctx, url, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindNetwork, "lsposed index fetch failed", err)
	}
	if !resp.IsOK() {
		return nil, apperror.New(apperror.KindUpstream, fmt.Sprintf("lsposed index request returned %d", resp.Status))
	}
	var modules []indexModule
	if err := json.Unmarshal(resp.Body, &modules); err != nil {
		return nil, apperror.Wrap(apperror.KindUpstream, "decode lsposed index response", err)
	}
	for i := range modules {
		if modules[i].Name == pkg {
			return &modules[i], nil
		}
	}
	return nil, nil
}

func (p *Provider) CheckAppAvailable(ctx context.Context, in provider.Input) (provider.Output[bool], error) {
	pkg, err := packageName(in.AppData)
	if err != nil {
		return provider.Output[bool]{}, err
	}
	mod, err := p.fetchModule(ctx, in, pkg)
	if err != nil {
		return provider.Output[bool]{}, err
	}
	return provider.NewOutput(mod != nil), nil
}

func (p *Provider) GetReleases(ctx context.Context, in provider.Input) (provider.Output[[]provider.ReleaseData], error) {
	pkg, err := packageName(in.AppData)
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, err
	}
	mod, err := p.fetchModule(ctx, in, pkg)
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, err
	}
	if mod == nil {
		return provider.NewOutput([]provider.ReleaseData{}), nil
	}

	releases := make([]provider.ReleaseData, 0, len(mod.Releases))
	for _, rel := range mod.Releases {
		if rel.TagName == "" {
			continue
		}
		assets := make([]provider.AssetData, 0, len(rel.ReleaseAssets))
		for _, a := range rel.ReleaseAssets {
			assets = append(assets, provider.AssetData{
				FileName:    a.Name,
				FileType:    a.ContentType,
				DownloadURL: a.BrowserDownloadURL,
			})
		}
		releases = append(releases, provider.ReleaseData{
			VersionNumber: rel.TagName,
			Changelog:     rel.Description,
			Assets:        assets,
		})
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
