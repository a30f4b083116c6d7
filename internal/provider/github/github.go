// Package github implements the GitHub hub adapter, generalizing the
// ancestor daemon's self-update GitHub client (which only ever talked to
// one hardcoded repository) into a provider that resolves owner/repo from
// each request's app_data.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
	"github.com/dupdatesystem/getter-go/internal/version"
)

const (
	providerUUID = "fd9b2602-62c5-4d55-bd1e-0d6537714ca0"
	webBaseURL   = "https://github.com"
	apiBaseURL   = "https://api.github.com"
	userAgent    = "UpgradeAll-App"
)

// Provider implements provider.Provider for GitHub.
type Provider struct {
	Client *httputil.Client
}

// New builds a GitHub provider using the given HTTP client.
func New(client *httputil.Client) *Provider {
	return &Provider{Client: client}
}

func (p *Provider) UUID() string         { return providerUUID }
func (p *Provider) FriendlyName() string { return "github" }

func ownerRepo(appData provider.DataMap) (owner, repo string, err error) {
	owner, err = provider.RequireString(appData, "owner", "app_data")
	if err != nil {
		return "", "", err
	}
	repo, err = provider.RequireString(appData, "repo", "app_data")
	if err != nil {
		return "", "", err
	}
	return owner, repo, nil
}

// CacheRequestKeys derives the upstream cache keys for this function and
// input, using the URL the request would hit as the key (the provider-side
// canonicalisation convention this module standardises on).
func (p *Provider) CacheRequestKeys(ft provider.FunctionType, in provider.Input) []string {
	owner, repo, err := ownerRepo(in.AppData)
	if err != nil {
		return nil
	}
	switch ft {
	case provider.FunctionCheckAppAvailable:
		return []string{fmt.Sprintf("%s/%s/%s/HEAD", webBaseURL, owner, repo)}
	default:
		return []string{fmt.Sprintf("%s/repos/%s/%s/releases", apiBaseURL, owner, repo)}
	}
}

func authHeader(appData, hubData provider.DataMap) string {
	token := strings.TrimSpace(hubData.GetString("token"))
	if token == "" {
		token = strings.TrimSpace(appData.GetString("token"))
	}
	return token
}

func (p *Provider) headers(in provider.Input) map[string]string {
	headers := map[string]string{
		"Accept":     "application/vnd.github+json",
		"User-Agent": userAgent,
	}
	if tok := authHeader(in.AppData, in.HubData); tok != "" {
		headers["Authorization"] = "Bearer " + tok
	}
	return headers
}

func (p *Provider) CheckAppAvailable(ctx context.Context, in provider.Input) (provider.Output[bool], error) {
	owner, repo, err := ownerRepo(in.AppData)
	if err != nil {
		return provider.Output[bool]{}, err
	}
	url := provider.RewriteFromHubData(in.HubData, fmt.Sprintf("%s/%s/%s", webBaseURL, owner, repo))
	resp, err := p.Client.Head(ctx, url, p.headers(in))
	if err != nil {
		return provider.Output[bool]{}, apperror.Wrap(apperror.KindNetwork, "github availability check failed", err)
	}
	return provider.NewOutput(resp.IsOK()), nil
}

// apiRelease is decoded generically, rather than into a fixed struct,
// so selectVersion can look up an arbitrary hub-configured field name
// alongside the two conventional ones.
type apiRelease map[string]json.RawMessage

type apiAsset struct {
	Name               string `json:"name"`
	ContentType        string `json:"content_type"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func rawString(rel apiRelease, key string) (string, bool) {
	raw, ok := rel[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// selectVersion tries the hub-configured field name first (if any), then
// falls back to the two conventional GitHub release fields, returning the
// first candidate that parses as a valid version.
func selectVersion(rel apiRelease, hubVersionKey string) string {
	candidates := []string{}
	if key := strings.TrimSpace(hubVersionKey); key != "" {
		candidates = append(candidates, key)
	}
	candidates = append(candidates, "name", "tag_name")
	for _, key := range candidates {
		if s, ok := rawString(rel, key); ok && version.New(s).IsValid() {
			return s
		}
	}
	return ""
}

func (p *Provider) GetReleases(ctx context.Context, in provider.Input) (provider.Output[[]provider.ReleaseData], error) {
	owner, repo, err := ownerRepo(in.AppData)
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, err
	}
	url := provider.RewriteFromHubData(in.HubData, fmt.Sprintf("%s/repos/%s/%s/releases", apiBaseURL, owner, repo))

	resp, err := p.Client.Get(ctx, url, p.headers(in))
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, apperror.Wrap(apperror.KindNetwork, "github releases request failed", err)
	}
	if !resp.IsOK() {
		return provider.Output[[]provider.ReleaseData]{}, apperror.New(apperror.KindUpstream, fmt.Sprintf("github releases request returned %d", resp.Status))
	}

	var apiReleases []apiRelease
	if err := json.Unmarshal(resp.Body, &apiReleases); err != nil {
		return provider.Output[[]provider.ReleaseData]{}, apperror.Wrap(apperror.KindUpstream, "decode github releases response", err)
	}

	hubVersionKey := in.HubData.GetString("version_number_key")
	releases := make([]provider.ReleaseData, 0, len(apiReleases))
	for _, rel := range apiReleases {
		ver := selectVersion(rel, hubVersionKey)
		if ver == "" {
			continue
		}
		body, _ := rawString(rel, "body")

		var rawAssets []apiAsset
		if raw, ok := rel["assets"]; ok {
			_ = json.Unmarshal(raw, &rawAssets)
		}
		assets := make([]provider.AssetData, 0, len(rawAssets))
		for _, a := range rawAssets {
			assets = append(assets, provider.AssetData{
				FileName:    a.Name,
				FileType:    a.ContentType,
				DownloadURL: a.BrowserDownloadURL,
			})
		}
		releases = append(releases, provider.ReleaseData{
			VersionNumber: ver,
			Changelog:     body,
			Assets:        assets,
		})
	}
	releases = provider.DiscardEmptyReleases(releases)

	return provider.Output[[]provider.ReleaseData]{
		Result:       releases,
		CacheUpdates: map[string][]byte{url: resp.Body},
	}, nil
}

func (p *Provider) GetLatestRelease(ctx context.Context, in provider.Input) (provider.Output[provider.ReleaseData], error) {
	out, err := p.GetReleases(ctx, in)
	if err != nil {
		return provider.Output[provider.ReleaseData]{}, err
	}
	return provider.LatestFromReleases(out)
}

var _ provider.Provider = (*Provider)(nil)
