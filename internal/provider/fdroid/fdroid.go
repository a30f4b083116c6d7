// Package fdroid implements the F-Droid hub adapter: an availability
// check that looks the package up in the fetched index (falling back to
// a substring search of its body) plus an index.xml parse for releases. No example
// repo in the pack imports a third-party XML library and F-Droid's index
// schema is small and fixed, so this adapter uses encoding/xml directly
// (see DESIGN.md for the standard-library justification).
package fdroid

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
)

const (
	providerUUID    = "e4f580e8-87eb-4c4e-bd1d-3a60a8a5a3aa"
	defaultRepoBase = "https://f-droid.org"
)

// Provider implements provider.Provider for F-Droid repositories.
type Provider struct {
	Client *httputil.Client
}

// New builds an F-Droid provider using the given HTTP client.
func New(client *httputil.Client) *Provider {
	return &Provider{Client: client}
}

func (p *Provider) UUID() string         { return providerUUID }
func (p *Provider) FriendlyName() string { return "f-droid" }

func packageName(appData provider.DataMap) (string, error) {
	if pkg := appData.GetString("android_app_package"); pkg != "" {
		return pkg, nil
	}
	if pkg := appData.GetString("package_id"); pkg != "" {
		return pkg, nil
	}
	return "", apperror.New(apperror.KindInvalidInput, "app_data.android_app_package is required")
}

func repoBase(hubData provider.DataMap) string {
	if base := hubData.GetString("repo_url"); base != "" {
		return strings.TrimRight(base, "/")
	}
	return defaultRepoBase
}

func (p *Provider) CacheRequestKeys(ft provider.FunctionType, in provider.Input) []string {
	return []string{repoBase(in.HubData) + "/repo/index.xml"}
}

type fdroidIndex struct {
	Applications []fdroidApplication `xml:"application"`
}

type fdroidApplication struct {
	ID       string          `xml:"id,attr"`
	Packages []fdroidPackage `xml:"package"`
}

type fdroidPackage struct {
	Version     string `xml:"version"`
	VersionCode string `xml:"versioncode"`
	APKName     string `xml:"apkname"`
	Size        string `xml:"size"`
	Summary     string `xml:"summary"`
	Desc        string `xml:"desc"`
}

func (p *Provider) fetchIndex(ctx context.Context, in provider.Input) (fdroidIndex, []byte, error) {
	url := provider.RewriteFromHubData(in.HubData, repoBase(in.HubData)+"/repo/index.xml")
	resp, err := p.Client.Get(ctx, url, nil)
	if err != nil {
		return fdroidIndex{}, nil, apperror.Wrap(apperror.KindNetwork, "f-droid index fetch failed", err)
	}
	if !resp.IsOK() {
		return fdroidIndex{}, nil, apperror.New(apperror.KindUpstream, fmt.Sprintf("f-droid index request returned %d", resp.Status))
	}
	var idx fdroidIndex
	if err := xml.Unmarshal(resp.Body, &idx); err != nil {
		return fdroidIndex{}, nil, apperror.Wrap(apperror.KindUpstream, "parse f-droid index.xml", err)
	}
	return idx, resp.Body, nil
}

func (p *Provider) CheckAppAvailable(ctx context.Context, in provider.Input) (provider.Output[bool], error) {
	pkg, err := packageName(in.AppData)
	if err != nil {
		return provider.Output[bool]{}, err
	}
	idx, body, err := p.fetchIndex(ctx, in)
	if err != nil {
		return provider.Output[bool]{}, err
	}
	available := false
	for _, app := range idx.Applications {
		if app.ID == pkg {
			available = true
			break
		}
	}
	if !available {
		available = strings.Contains(string(body), `id="`+pkg+`"`)
	}
	return provider.NewOutput(available), nil
}

func assetFileType(apkName string) string {
	if strings.HasSuffix(strings.ToLower(apkName), ".zip") {
		return "zip"
	}
	return "apk"
}

func (p *Provider) GetReleases(ctx context.Context, in provider.Input) (provider.Output[[]provider.ReleaseData], error) {
	pkg, err := packageName(in.AppData)
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, err
	}
	idx, body, err := p.fetchIndex(ctx, in)
	if err != nil {
		return provider.Output[[]provider.ReleaseData]{}, err
	}

	base := repoBase(in.HubData)
	var releases []provider.ReleaseData
	for _, app := range idx.Applications {
		if app.ID != pkg {
			continue
		}
		for _, pkgEntry := range app.Packages {
			if pkgEntry.Version == "" || pkgEntry.APKName == "" {
				continue
			}
			extra := map[string]string{}
			if pkgEntry.VersionCode != "" {
				if _, err := strconv.Atoi(pkgEntry.VersionCode); err == nil {
					extra["versioncode"] = pkgEntry.VersionCode
				}
			}
			releases = append(releases, provider.ReleaseData{
				VersionNumber: pkgEntry.Version,
				Changelog:     pkgEntry.Desc,
				Assets: []provider.AssetData{{
					FileName:    pkgEntry.APKName,
					FileType:    assetFileType(pkgEntry.APKName),
					DownloadURL: base + "/repo/" + pkgEntry.APKName,
				}},
				Extra: extra,
			})
		}
	}
	releases = provider.DiscardEmptyReleases(releases)

	keys := p.CacheRequestKeys(provider.FunctionGetReleases, in)
	updates := map[string][]byte{}
	if len(keys) == 1 {
		updates[keys[0]] = body
	}
	return provider.Output[[]provider.ReleaseData]{Result: releases, CacheUpdates: updates}, nil
}

func (p *Provider) GetLatestRelease(ctx context.Context, in provider.Input) (provider.Output[provider.ReleaseData], error) {
	out, err := p.GetReleases(ctx, in)
	if err != nil {
		return provider.Output[provider.ReleaseData]{}, err
	}
	return provider.LatestFromReleases(out)
}

var _ provider.Provider = (*Provider)(nil)
