// Package cloudsync pulls a cloud-hosted app/hub catalog and materializes
// it as a repository directory (apps/*.json, hubs/*.json) that
// internal/registry can merge like any other repository, generalizing
// the ancestor project's getter-config CloudSync (cloud_config.json
// compatible wire format) from its single hardcoded HashMap-backed
// repo_path target to an arbitrary destination directory.
package cloudsync

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/atomicfile"
	"github.com/dupdatesystem/getter-go/internal/httputil"
)

// CloudConfig is the wire format synced from the cloud catalog endpoint.
type CloudConfig struct {
	AppConfigList []CloudAppItem `json:"app_config_list"`
	HubConfigList []CloudHubItem `json:"hub_config_list"`
}

type CloudAppItem struct {
	BaseVersion   int          `json:"base_version"`
	ConfigVersion int          `json:"config_version,omitempty"`
	UUID          string       `json:"uuid"`
	BaseHubUUID   string       `json:"base_hub_uuid"`
	Info          CloudAppInfo `json:"info"`
}

type CloudAppInfo struct {
	Name     string            `json:"name"`
	URL      string            `json:"url"`
	ExtraMap map[string]string `json:"extra_map,omitempty"`
}

type CloudHubItem struct {
	BaseVersion     int          `json:"base_version"`
	ConfigVersion   int          `json:"config_version,omitempty"`
	UUID            string       `json:"uuid"`
	Info            CloudHubInfo `json:"info"`
	TargetCheckAPI  string       `json:"target_check_api,omitempty"`
	APIKeywords     []string     `json:"api_keywords,omitempty"`
	AppURLTemplates []string     `json:"app_url_templates,omitempty"`
}

type CloudHubInfo struct {
	HubName    string `json:"hub_name"`
	HubIconURL string `json:"hub_icon_url,omitempty"`
}

// Syncer fetches a CloudConfig and writes it into a repository directory.
type Syncer struct {
	Client      *httputil.Client
	CloudURL    string
	UUIDToName  map[string]string
}

// New builds a Syncer targeting cloudURL.
func New(client *httputil.Client, cloudURL string) *Syncer {
	return &Syncer{Client: client, CloudURL: cloudURL, UUIDToName: make(map[string]string)}
}

// FetchCloudConfig retrieves and decodes the cloud catalog.
func (s *Syncer) FetchCloudConfig(ctx context.Context) (CloudConfig, error) {
	if s.CloudURL == "" {
		return CloudConfig{}, apperror.New(apperror.KindInvalidInput, "no cloud URL configured")
	}
	resp, err := s.Client.Get(ctx, s.CloudURL, nil)
	if err != nil {
		return CloudConfig{}, err
	}
	if !resp.IsOK() {
		return CloudConfig{}, apperror.New(apperror.KindUpstream, "cloud config fetch failed")
	}
	var cfg CloudConfig
	if err := json.Unmarshal(resp.Body, &cfg); err != nil {
		return CloudConfig{}, apperror.Wrap(apperror.KindUpstream, "decode cloud config", err)
	}
	return cfg, nil
}

func slug(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
}

// ConvertAppItem maps a CloudAppItem to the id/document pair a repository
// apps/<app_id>.json entry expects.
func (s *Syncer) ConvertAppItem(app CloudAppItem) (string, map[string]any) {
	appID, ok := s.UUIDToName[app.UUID]
	if !ok {
		appID = slug(app.Info.Name)
	}

	metadata := map[string]any{
		"uuid":           app.UUID,
		"base_hub_uuid":  app.BaseHubUUID,
		"url":            app.Info.URL,
		"base_version":   app.BaseVersion,
		"config_version": app.ConfigVersion,
	}
	for k, v := range app.Info.ExtraMap {
		metadata[k] = v
	}

	return appID, map[string]any{
		"name":     app.Info.Name,
		"metadata": metadata,
	}
}

// ConvertHubItem maps a CloudHubItem to the id/document pair a repository
// hubs/<hub_id>.json entry expects.
func (s *Syncer) ConvertHubItem(hub CloudHubItem) (string, map[string]any) {
	hubID, ok := s.UUIDToName[hub.UUID]
	if !ok {
		hubID = slug(hub.Info.HubName)
	}

	return hubID, map[string]any{
		"name":               hub.Info.HubName,
		"provider_type":      hubID,
		"uuid":               hub.UUID,
		"base_version":       hub.BaseVersion,
		"config_version":     hub.ConfigVersion,
		"hub_icon_url":       hub.Info.HubIconURL,
		"target_check_api":   hub.TargetCheckAPI,
		"api_keywords":       hub.APIKeywords,
		"app_url_templates":  hub.AppURLTemplates,
	}
}

// CreateAppIdentifier builds the app_id::hub_id tracking identifier for a
// synced app, "unknown" as the hub component if its UUID wasn't resolved.
func (s *Syncer) CreateAppIdentifier(app CloudAppItem) string {
	appID, ok := s.UUIDToName[app.UUID]
	if !ok {
		appID = slug(app.Info.Name)
	}
	hubID, ok := s.UUIDToName[app.BaseHubUUID]
	if !ok {
		hubID = "unknown"
	}
	return appID + "::" + hubID
}

// SyncToRepo fetches the cloud catalog and writes apps/*.json and
// hubs/*.json into repoDir, plus a uuid_mapping.json for future lookups.
// It returns the import identifiers for every synced app.
func (s *Syncer) SyncToRepo(ctx context.Context, repoDir string) ([]string, error) {
	cfg, err := s.FetchCloudConfig(ctx)
	if err != nil {
		return nil, err
	}

	for _, hub := range cfg.HubConfigList {
		s.UUIDToName[hub.UUID] = slug(hub.Info.HubName)
	}

	for _, hub := range cfg.HubConfigList {
		hubID, doc := s.ConvertHubItem(hub)
		if err := writeJSON(filepath.Join(repoDir, "hubs", hubID+".json"), doc); err != nil {
			return nil, err
		}
	}

	var identifiers []string
	for _, app := range cfg.AppConfigList {
		appID, doc := s.ConvertAppItem(app)
		if err := writeJSON(filepath.Join(repoDir, "apps", appID+".json"), doc); err != nil {
			return nil, err
		}
		identifiers = append(identifiers, s.CreateAppIdentifier(app))
	}

	if err := writeJSON(filepath.Join(repoDir, "uuid_mapping.json"), s.UUIDToName); err != nil {
		return nil, err
	}

	return identifiers, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperror.Wrap(apperror.KindFilesystem, "encode synced document", err)
	}
	return atomicfile.Write(path, data, 0o644)
}
