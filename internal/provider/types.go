// Package provider defines the uniform hub-adapter contract (C4):
// a stable uuid, a pure cache-key derivation function, and the three
// release-query operations every hub (GitHub, GitLab, F-Droid, LSPosed,
// Android-local, Magisk) must implement identically from the Application
// Manager's point of view.
package provider

import (
	"context"
	"fmt"

	"github.com/dupdatesystem/getter-go/internal/apperror"
)

// FunctionType identifies which provider operation a cache key is being
// derived for.
type FunctionType int

const (
	FunctionCheckAppAvailable FunctionType = iota
	FunctionGetLatestRelease
	FunctionGetReleases
)

func (f FunctionType) String() string {
	switch f {
	case FunctionCheckAppAvailable:
		return "check_app_available"
	case FunctionGetLatestRelease:
		return "get_latest_release"
	case FunctionGetReleases:
		return "get_releases"
	default:
		return "unknown"
	}
}

// DataMap is the opaque per-app or per-hub parameter bag (owner/repo,
// android_app_package, token, reverse_proxy, ...).
type DataMap map[string]any

// GetString returns the string value at key, or "" if absent or not a
// string.
func (d DataMap) GetString(key string) string {
	v, ok := d[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// AssetData describes one downloadable release artifact.
type AssetData struct {
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type"`
	DownloadURL string `json:"download_url"`
}

// ReleaseData describes one upstream release.
type ReleaseData struct {
	VersionNumber string            `json:"version_number"`
	Changelog     string            `json:"changelog"`
	Assets        []AssetData       `json:"assets"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Input carries everything a provider needs to answer one query: the
// app/hub parameter maps and any upstream-response cache entries the
// provider itself declared via CacheRequestKeys on a prior call.
type Input struct {
	AppData DataMap
	HubData DataMap
	Cache   map[string][]byte
}

// Output carries a provider's result plus any cache entries that should
// be committed back to the upstream-response cache.
type Output[T any] struct {
	Result       T
	CacheUpdates map[string][]byte
}

// NewOutput wraps result with no cache updates.
func NewOutput[T any](result T) Output[T] {
	return Output[T]{Result: result}
}

// Provider is the hub-adapter contract every provider implements.
type Provider interface {
	// UUID is a stable identifier, used as the hub's provider_type.
	UUID() string
	// FriendlyName is a short human-readable tag.
	FriendlyName() string
	// CacheRequestKeys pure-functionally derives the upstream cache keys
	// this function/input combination would read or write.
	CacheRequestKeys(ft FunctionType, in Input) []string
	CheckAppAvailable(ctx context.Context, in Input) (Output[bool], error)
	GetReleases(ctx context.Context, in Input) (Output[[]ReleaseData], error)
	GetLatestRelease(ctx context.Context, in Input) (Output[ReleaseData], error)
}

// DiscardEmptyReleases drops any release with an empty version number,
// per invariant I2.
func DiscardEmptyReleases(releases []ReleaseData) []ReleaseData {
	out := releases[:0:0]
	for _, r := range releases {
		if r.VersionNumber != "" {
			out = append(out, r)
		}
	}
	return out
}

// LatestFromReleases implements the default get_latest_release behaviour:
// the first element of get_releases, or a NotFound error if empty.
func LatestFromReleases(out Output[[]ReleaseData]) (Output[ReleaseData], error) {
	if len(out.Result) == 0 {
		return Output[ReleaseData]{}, apperror.New(apperror.KindNotFound, "no releases available")
	}
	return Output[ReleaseData]{Result: out.Result[0], CacheUpdates: out.CacheUpdates}, nil
}

// RequireString fetches a required field from a DataMap, returning an
// InvalidInput error naming both the field and the map it was missing from.
func RequireString(d DataMap, key, mapName string) (string, error) {
	v := d.GetString(key)
	if v == "" {
		return "", apperror.New(apperror.KindInvalidInput, fmt.Sprintf("%s.%s is required", mapName, key))
	}
	return v, nil
}
