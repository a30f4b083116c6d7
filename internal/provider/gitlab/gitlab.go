// Package gitlab implements the GitLab hub adapter. No example repo in
// the pack talks to GitLab, so behaviour is grounded directly on the
// spec's section 4.4 description, following the request/parse shape
// established by the github adapter.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
)

const (
	providerUUID = "972d55e7-0f45-4f1e-807d-7a7ab68e0a1e"
	apiBaseURL   = "https://gitlab.com/api/v4"
	webBaseURL   = "https://gitlab.com"
)

// Provider implements provider.Provider for GitLab.
type Provider struct {
	Client *httputil.Client
}

// New builds a GitLab provider using the given HTTP client.
func New(client *httputil.Client) *Provider {
	return &Provider{Client: client}
}

func (p *Provider) UUID() string         { return providerUUID }
func (p *Provider) FriendlyName() string { return "gitlab" }

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

func projectPath(owner, repo string) string {
	return url.PathEscape(owner + "/" + repo)
}

func (p *Provider) CacheRequestKeys(ft provider.FunctionType, in provider.Input) []string {
	owner, repo, err := ownerRepo(in.AppData)
	if err != nil {
		return nil
	}
	return []string{fmt.Sprintf("%s/projects/%s/releases", apiBaseURL, projectPath(owner, repo))}
}

func (p *Provider) headers(in provider.Input) map[string]string {
	headers := map[string]string{}
	token := strings.TrimSpace(in.HubData.GetString("token"))
	if token == "" {
		token = strings.TrimSpace(in.AppData.GetString("token"))
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return headers
}

func (p *Provider) CheckAppAvailable(ctx context.Context, in provider.Input) (provider.Output[bool], error) {
	owner, repo, err := ownerRepo(in.AppData)
	if err != nil {
		return provider.Output[bool]{}, err
	}
	url := provider.RewriteFromHubData(in.HubData, fmt.Sprintf("%s/projects/%s", apiBaseURL, projectPath(owner, repo)))
	resp, err := p.Client.Head(ctx, url, p.headers(in))
	if err != nil {
		return provider.Output[bool]{}, apperror.Wrap(apperror.KindNetwork, "gitlab availability check failed", err)
	}
	return provider.NewOutput(resp.IsOK()), nil
}

type apiRelease struct {
	TagName     string `json:"tag_name"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Assets      struct {
		Links []apiLink `json:"links"`
	} `json:"assets"`
}

type apiLink struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	LinkType string `json:"link_type"`
}

type projectResponse struct {
	ID int64 `json:"id"`
}

func (p *Provider) resolveProjectID(ctx context.Context, in provider.Input, owner, repo string) (int64, error) {
	url := provider.RewriteFromHubData(in.HubData, fmt.Sprintf("%s/projects/%s", apiBaseURL, projectPath(owner, repo)))
	resp, err := p.Client.Get(ctx, url, p.headers(in))
	if err != nil {
		return 0, apperror.Wrap(apperror.KindNetwork, "gitlab project lookup failed", err)
	}
	if !resp.IsOK() {
		return 0, apperror.New(apperror.KindUpstream, fmt.Sprintf("gitlab project lookup returned %d", resp.Status))
	}
	var proj projectResponse
	if err := json.Unmarshal(resp.Body, &proj); err != nil {
		return 0, apperror.Wrap(apperror.KindUpstream, "decode gitlab project response", err)
	}
	return proj.ID, nil
}

func (p *Provider) rewriteUploadURL(assetURL string, projectID int64) string {
	if !strings.HasPrefix(assetURL, "/uploads/") {
		return assetURL
	}
	return fmt.Sprintf("%s/-/project/%d%s", webBaseURL, projectID, assetURL)
}

func (p *Provider) GetReleases(ctx context.Context, in provider.Input) (provider.Output[[]provider.ReleaseData], error) {
	owner, repo, err := ownerRepo(in.AppData)
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, err
	}
	url := provider.RewriteFromHubData(in.HubData, fmt.Sprintf("%s/projects/%s/releases", apiBaseURL, projectPath(owner, repo)))

	resp, err := p.Client.Get(ctx, url, p.headers(in))
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, apperror.Wrap(apperror.KindNetwork, "gitlab releases request failed", err)
	}
	if !resp.IsOK() {
		return provider.Output[[]provider.ReleaseData]{}, apperror.New(apperror.KindUpstream, fmt.Sprintf("gitlab releases request returned %d", resp.Status))
	}

	var apiReleases []apiRelease
	if err := json.Unmarshal(resp.Body, &apiReleases); err != nil {
		return provider.Output[[]provider.ReleaseData]{}, apperror.Wrap(apperror.KindUpstream, "decode gitlab releases response", err)
	}

	var projectID int64
	var projectIDResolved bool

	releases := make([]provider.ReleaseData, 0, len(apiReleases))
	for _, rel := range apiReleases {
		ver := rel.TagName
		if ver == "" {
			ver = rel.Name
		}
		if ver == "" {
			continue
		}
		assets := make([]provider.AssetData, 0, len(rel.Assets.Links))
		for _, link := range rel.Assets.Links {
			assetURL := link.URL
			if strings.HasPrefix(assetURL, "/uploads/") {
				if !projectIDResolved {
					projectID, err = p.resolveProjectID(ctx, in, owner, repo)
					if err != nil {
						return provider.Output[[]provider.ReleaseData]{}, err
					}
					projectIDResolved = true
				}
				assetURL = p.rewriteUploadURL(assetURL, projectID)
			}
			assets = append(assets, provider.AssetData{
				FileName:    link.Name,
				FileType:    link.LinkType,
				DownloadURL: assetURL,
			})
		}
		releases = append(releases, provider.ReleaseData{
			VersionNumber: ver,
			Changelog:     rel.Description,
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
